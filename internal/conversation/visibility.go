package conversation

import "voxareflect/internal/domain"

// editorStudyGroup always sees chat and editor side by side.
const editorStudyGroup = "2"

// DeriveVisibility decides which panes to reveal for conv. last is the
// message just sent or received, if any.
func DeriveVisibility(conv domain.Conversation, last string, studyGroup string, language string) domain.Visibility {
	if studyGroup == editorStudyGroup {
		return domain.VisibilityBoth
	}
	sentinel := ReadySentinel(language)
	if last == sentinel || conv.HasMessage(sentinel) {
		return domain.VisibilityBoth
	}
	return domain.VisibilityChat
}
