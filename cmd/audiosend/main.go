// Command audiosend streams a WAV file (or generated silence) to a running
// spatialvoice server and prints the session events it gets back.
//
//	audiosend -url http://localhost:8080 -file hello.wav
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/spatialvoice/internal/hub"
	"github.com/MrWong99/spatialvoice/pkg/audio"
)

// frameBytes is 3 s of 16 kHz PCM16 mono, one server chunk per frame.
const frameBytes = 96000

func main() {
	os.Exit(run())
}

func run() int {
	server := flag.String("url", "http://localhost:8080", "base URL of the spatialvoice server")
	session := flag.String("session", "", "session id (default: random)")
	file := flag.String("file", "", "WAV file to send (default: silence)")
	silence := flag.Duration("silence", 3*time.Second, "length of generated silence when no file is given")
	wait := flag.Duration("wait", 15*time.Second, "how long to wait for replies after sending")
	flag.Parse()

	if *session == "" {
		*session = uuid.NewString()
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	pcm, err := loadPCM(*file, *silence)
	if err != nil {
		slog.Error("load audio", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, err := wsBase(*server)
	if err != nil {
		slog.Error("invalid server url", "err", err)
		return 1
	}
	query := "?session_id=" + url.QueryEscape(*session)

	events, _, err := websocket.Dial(ctx, base+"/ws/transcription"+query, nil)
	if err != nil {
		slog.Error("dial transcription", "err", err)
		return 1
	}
	defer events.CloseNow()

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(ctx, events, os.Stdout)
	}()

	if err := send(ctx, base+"/ws/audio"+query, pcm); err != nil {
		slog.Error("send audio", "err", err)
		return 1
	}
	slog.Info("audio sent", "session_id", *session, "bytes", len(pcm))

	select {
	case <-done:
	case <-time.After(*wait):
	case <-ctx.Done():
	}
	events.Close(websocket.StatusNormalClosure, "")
	return 0
}

// loadPCM returns 16 kHz mono PCM16 from path, or d of silence when path is
// empty.
func loadPCM(path string, d time.Duration) ([]byte, error) {
	if path == "" {
		return make([]byte, int(d.Seconds()*16000)*2), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h, pcm, err := audio.ParseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return audio.ToMono16(h, pcm, audio.DefaultSampleRate)
}

// send streams pcm as base64 envelopes of frameBytes each and closes the
// connection, which makes the server flush the remainder.
func send(ctx context.Context, target string, pcm []byte) error {
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	for chunk := range frames(pcm, frameBytes) {
		msg := map[string]string{"audio": base64.StdEncoding.EncodeToString(chunk)}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			return err
		}
	}
	return conn.Close(websocket.StatusNormalClosure, "done")
}

// frames yields pcm in slices of at most n bytes.
func frames(pcm []byte, n int) func(yield func([]byte) bool) {
	return func(yield func([]byte) bool) {
		for len(pcm) > 0 {
			k := min(n, len(pcm))
			if !yield(pcm[:k]) {
				return
			}
			pcm = pcm[k:]
		}
	}
}

// printEvents writes one line per event until the connection ends. It
// returns after an assistant_done or error event.
func printEvents(ctx context.Context, conn *websocket.Conn, w io.Writer) {
	for {
		var ev hub.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				slog.Warn("event stream ended", "err", err)
			}
			return
		}
		switch ev.Type {
		case hub.TypeAssistantDelta:
			fmt.Fprint(w, ev.Text)
		case hub.TypeAssistantDone:
			fmt.Fprintln(w)
			return
		case hub.TypeToolCall:
			fmt.Fprintf(w, "\n[tool_call] %s %s\n", ev.Tool, ev.Input)
		case hub.TypeError:
			fmt.Fprintf(w, "[error] %s\n", ev.Error)
			return
		default:
			fmt.Fprintf(w, "[%s] %s\n", ev.Type, ev.Text)
		}
	}
}

// wsBase turns an http(s) base URL into its ws(s) equivalent.
func wsBase(raw string) (string, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
