package notify

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBellNotifier(t *testing.T) {
	tests := []struct {
		cue  Cue
		want string
	}{
		{CueProcessing, ""},
		{CueSuccess, "\a"},
		{CueError, "\a\a"},
		{CueWarning, "\a\a"},
	}
	for _, tt := range tests {
		t.Run(string(tt.cue), func(t *testing.T) {
			var buf bytes.Buffer
			NewBellNotifier(&buf).Notify(tt.cue)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	n.Notify(CueSuccess)
	assert.Contains(t, buf.String(), `"cue":"success"`)
}

func TestMulti(t *testing.T) {
	var got []Cue
	record := NotifierFunc(func(c Cue) { got = append(got, c) })
	boom := NotifierFunc(func(Cue) { panic("speaker unplugged") })

	m := Multi(boom, nil, record, record)
	assert.NotPanics(t, func() { m.Notify(CueError) })
	assert.Equal(t, []Cue{CueError, CueError}, got)
}

func TestSafe(t *testing.T) {
	assert.NotPanics(t, func() { Safe(nil, CueSuccess) })
	assert.NotPanics(t, func() { Safe(Nop, CueSuccess) })
}
