package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/carrier"
)

// FakeClient: детерминированная заглушка перевозчика для демо и тестов.
// Каждый трек-номер продвигается по цепочке событий, по одному шагу на час.
// Часть треков (по хэшу) доходит до вручения.
type FakeClient struct {
	now func() time.Time
}

func New() *FakeClient { return &FakeClient{now: time.Now} }

func (f *FakeClient) Authenticate(ctx context.Context) (string, error) {
	return "fake-token", nil
}

func (f *FakeClient) TrackOne(ctx context.Context, code string) (*carrier.RawTrackingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.track(code), nil
}

func (f *FakeClient) TrackMany(ctx context.Context, codes []string) (map[string]*carrier.RawTrackingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]*carrier.RawTrackingResult, len(codes))
	for _, c := range codes {
		out[c] = f.track(c)
	}
	return out, nil
}

var script = []carrier.RawEvent{
	{Codigo: "PO", Descricao: "Objeto postado", Local: "AGENCIA DOS CORREIOS - SAO PAULO/SP"},
	{Codigo: "RO", Descricao: "Objeto em trânsito - por favor aguarde", Local: "CTE VILA MARIA - SAO PAULO/SP"},
	{Codigo: "RO", Descricao: "Objeto encaminhado para unidade de distribuição", Local: "CDD CENTRO - RIO DE JANEIRO/RJ"},
	{Codigo: "OEC", Descricao: "Objeto saiu para entrega ao destinatário", Local: "CDD CENTRO - RIO DE JANEIRO/RJ"},
	{Codigo: "BDE", Descricao: "Objeto entregue ao destinatário", Local: "RIO DE JANEIRO/RJ"},
}

func (f *FakeClient) track(code string) *carrier.RawTrackingResult {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	v := h.Sum32()

	// 20% треков доходят до вручения, остальные застревают на одном из промежуточных шагов
	steps := len(script)
	if v%5 != 0 {
		steps = 1 + int(v%uint32(len(script)-1))
	}

	start := f.now().UTC().Truncate(time.Hour).Add(-time.Duration(steps) * time.Hour)
	res := &carrier.RawTrackingResult{Code: code}
	for i := 0; i < steps; i++ {
		ev := script[i]
		at := start.Add(time.Duration(i+1) * time.Hour)
		ev.Data = at.Format("02/01/2006")
		ev.Hora = at.Format("15:04:05")
		res.Eventos = append(res.Eventos, ev)
	}
	return res
}
