package event

import "encoding/json"

// Client request types recognized on the push channel.
const RequestPlan = "plan_request"

// ClientRequest is a client-to-server message received over the push
// channel. Currently only plan_request is recognized.
type ClientRequest struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// ParseClientRequest decodes raw into a ClientRequest. The second return is
// false when the JSON is valid but not a recognized request; an error means
// the payload was not valid JSON at all.
func ParseClientRequest(raw []byte) (*ClientRequest, bool, error) {
	var req ClientRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, false, err
	}
	if req.Type != RequestPlan {
		return nil, false, nil
	}
	return &req, true, nil
}
