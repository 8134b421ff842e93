package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/spatialvoice/internal/hub"
	"github.com/MrWong99/spatialvoice/pkg/audio"
)

func TestFrames(t *testing.T) {
	var sizes []int
	for f := range frames(make([]byte, 250), 100) {
		sizes = append(sizes, len(f))
	}
	if len(sizes) != 3 || sizes[0] != 100 || sizes[2] != 50 {
		t.Errorf("frame sizes = %v, want [100 100 50]", sizes)
	}
}

func TestWSBase(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:8080", "ws://localhost:8080", false},
		{"https://voice.example.com/", "wss://voice.example.com", false},
		{"ftp://x", "", true},
	}
	for _, tt := range tests {
		got, err := wsBase(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("wsBase(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("wsBase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadPCM(t *testing.T) {
	silence, err := loadPCM("", 3*time.Second)
	if err != nil {
		t.Fatalf("loadPCM silence: %v", err)
	}
	if len(silence) != frameBytes {
		t.Errorf("silence = %d bytes, want %d", len(silence), frameBytes)
	}

	path := filepath.Join(t.TempDir(), "in.wav")
	pcm := make([]byte, 48000*2*2) // 1 s of 48 kHz stereo
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, 2, 48000, 16), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := loadPCM(path, 0)
	if err != nil {
		t.Fatalf("loadPCM file: %v", err)
	}
	if len(got) != 16000*2 {
		t.Errorf("converted = %d bytes, want %d", len(got), 16000*2)
	}
}

func TestSend(t *testing.T) {
	received := make(chan []byte, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(1 << 20)
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				close(received)
				return
			}
			received <- data
		}
	}))
	defer srv.Close()

	target := "ws" + strings.TrimPrefix(srv.URL, "http")
	if err := send(context.Background(), target, make([]byte, frameBytes+10)); err != nil {
		t.Fatalf("send: %v", err)
	}

	var msgs [][]byte
	for m := range received {
		msgs = append(msgs, m)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if !bytes.HasPrefix(msgs[0], []byte(`{"audio":"`)) {
		t.Errorf("message is not an audio envelope: %.40s", msgs[0])
	}
}

func TestPrintEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for _, ev := range []hub.Event{
			{Type: hub.TypeTranscription, Text: "what time is it"},
			{Type: hub.TypeAssistantDelta, Text: "It is "},
			{Type: hub.TypeAssistantDelta, Text: "noon."},
			{Type: hub.TypeAssistantDone},
		} {
			if err := wsjson.Write(r.Context(), conn, ev); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var out bytes.Buffer
	printEvents(ctx, conn, &out)
	want := "[transcription] what time is it\nIt is noon.\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}
