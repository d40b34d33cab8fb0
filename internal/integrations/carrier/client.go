package carrier

import "context"

// RawEvent is one tracking event as the carrier reports it. Date and time come
// as separate localized strings.
type RawEvent struct {
	Codigo    string `json:"codigo"`
	Local     string `json:"local"`
	Descricao string `json:"descricao"`
	Data      string `json:"data"`
	Hora      string `json:"hora"`
}

type RawTrackingResult struct {
	Code    string     `json:"codigo"`
	Eventos []RawEvent `json:"eventos"`
}

type Client interface {
	Authenticate(ctx context.Context) (string, error)
	TrackOne(ctx context.Context, code string) (*RawTrackingResult, error)
	// TrackMany returns results keyed by tracking code. Codes the carrier failed
	// to answer are absent; err reports the last batch failure, if any.
	TrackMany(ctx context.Context, codes []string) (map[string]*RawTrackingResult, error)
}
