package backend

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"

	"voxareflect/internal/ports"
)

// ContractEndpoint pairs the request and response documents of one endpoint.
type ContractEndpoint struct {
	Name     string         `json:"name"`
	Method   string         `json:"method"`
	Request  map[string]any `json:"request,omitempty"`
	Response map[string]any `json:"response"`
}

type contractEntry struct {
	name     string
	method   string
	request  any
	response any
}

var contract = []contractEntry{
	{name: "getConversations", method: "POST", request: ConversationsRequest{}, response: ConversationsResponse{}},
	{name: "newChat", method: "POST", request: ports.ChatRequest{}, response: ChatResponse{}},
	{name: "getFeedbackOnReflection", method: "POST", request: ports.ReviewRequest{}, response: ReviewResponse{}},
	{name: "addChatToConversation", method: "POST", request: ports.FeedbackRequest{}, response: ChatResponse{}},
	{name: "uploadAudio", method: "POST multipart", request: ports.ChatContext{}, response: UploadJobResponse{}},
	{name: "uploadAudio (sync)", method: "POST multipart", response: TranscriptResponse{}},
	{name: "voiceJobStatus", method: "GET", response: JobStatusResponse{}},
	{name: "tts/config", method: "GET", response: TTSConfigResponse{}},
	{name: "updateTurnPreset", method: "POST", request: TurnPresetRequest{}, response: SuccessResponse{}},
}

// Contract returns JSON schemas for every backend endpoint the client uses.
func Contract() ([]ContractEndpoint, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}

	out := make([]ContractEndpoint, 0, len(contract))
	for _, entry := range contract {
		endpoint := ContractEndpoint{Name: entry.name, Method: entry.method}
		if entry.request != nil {
			m, err := schemaToMap(reflector.Reflect(entry.request))
			if err != nil {
				return nil, fmt.Errorf("request schema for %s: %w", entry.name, err)
			}
			endpoint.Request = m
		}
		m, err := schemaToMap(reflector.Reflect(entry.response))
		if err != nil {
			return nil, fmt.Errorf("response schema for %s: %w", entry.name, err)
		}
		endpoint.Response = m
		out = append(out, endpoint)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
