package notice

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestPrinterLocalizes(t *testing.T) {
	tests := []struct {
		locale string
		notice Notice
		want   string
	}{
		{locale: "en-US", notice: RequestSent("Ana"), want: "Roll request sent to Ana."},
		{locale: "pt-BR", notice: RequestSent("Ana"), want: "Pedido de rolagem enviado para Ana."},
		{locale: "pt", notice: RollCancelled("Bruno"), want: "A rolagem de Bruno foi cancelada."},
		{locale: "fr-FR", notice: RollCancelled("Bruno"), want: "Roll for Bruno was cancelled."},
		{locale: "", notice: InvalidFormula("1d", "Cara"), want: `Could not roll "1d" for Cara: the formula is invalid.`},
	}
	for _, tt := range tests {
		t.Run(tt.locale+"/"+tt.notice.Key, func(t *testing.T) {
			if got := NewPrinter(tt.locale).Text(tt.notice); got != tt.want {
				t.Fatalf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogNotifierWritesLocalizedMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	NewLogNotifier("pt-BR", &logger).Notify(context.Background(), InvalidFormula("2d", "Cara"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["level"] != "error" || entry["notice"] != KeyInvalidFormula {
		t.Fatalf("entry = %v", entry)
	}
	if entry["message"] != `Não foi possível rolar "2d" para Cara: a fórmula é inválida.` {
		t.Fatalf("message = %v", entry["message"])
	}
}

func TestRecorderKeepsOrder(t *testing.T) {
	var r Recorder
	r.Notify(context.Background(), RequestSent("Ana"))
	r.Notify(context.Background(), RollCancelled("Bruno"))

	want := []Notice{RequestSent("Ana"), RollCancelled("Bruno")}
	if diff := cmp.Diff(want, r.Notices()); diff != "" {
		t.Fatalf("notices mismatch (-want +got):\n%s", diff)
	}
}
