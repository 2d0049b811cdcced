package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/callrelay/internal/audio"
	"github.com/ent0n29/callrelay/internal/protocol"
)

// callsim plays the telephony side of a call against a running relay: it
// streams caller audio to /call the way a Twilio media stream does and
// records what the assistant sends back.

type options struct {
	baseURL  string
	streamID string
	from     string
	to       string
	wavPath  string
	outPath  string
	listen   time.Duration
	realtime float64
	verbose  bool
}

type startFrame struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Start     startPayload `json:"start"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
}

type mediaFrame struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type markFrame struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type markPayload struct {
	Name string `json:"name"`
}

type eventFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

type inboundEnvelope struct {
	Event string `json:"event"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *markPayload `json:"mark,omitempty"`
}

type report struct {
	FramesSent      int
	AssistantFrames int
	AssistantBytes  int
	Marks           int
	Clears          int
	FirstAudio      time.Duration
}

// recorder collects relay output while the caller audio is streaming.
type recorder struct {
	mu      sync.Mutex
	started time.Time
	audio   []byte
	report  report
	marks   []string
}

func (r *recorder) handle(raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch protocol.TelephonyEventType(env.Event) {
	case protocol.TelephonyEventMedia:
		if env.Media == nil {
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return
		}
		if r.report.AssistantFrames == 0 {
			r.report.FirstAudio = time.Since(r.started)
		}
		r.report.AssistantFrames++
		r.report.AssistantBytes += len(decoded)
		r.audio = append(r.audio, decoded...)
	case protocol.TelephonyEventMark:
		r.report.Marks++
		if env.Mark != nil {
			r.marks = append(r.marks, env.Mark.Name)
		}
	case protocol.TelephonyEventClear:
		r.report.Clears++
	}
}

// pendingMarks returns marks received since the last call; the simulator
// echoes them back as played.
func (r *recorder) pendingMarks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.marks
	r.marks = nil
	return out
}

func (r *recorder) snapshot() (report, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, append([]byte(nil), r.audio...)
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	rep, err := run(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("callsim: sent=%d assistant_frames=%d assistant_bytes=%d marks=%d clears=%d first_audio=%s\n",
		rep.FramesSent, rep.AssistantFrames, rep.AssistantBytes, rep.Marks, rep.Clears, rep.FirstAudio)
}

func parseFlags() (options, error) {
	var cfg options
	var listenMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8081", "relay base URL")
	flag.StringVar(&cfg.streamID, "stream-sid", "", "stream id for the synthetic call (default: generated)")
	flag.StringVar(&cfg.from, "from", "+15550000001", "caller number sent as the From parameter")
	flag.StringVar(&cfg.to, "to", "+15550000002", "called number sent as the To parameter")
	flag.StringVar(&cfg.wavPath, "wav", "", "8 kHz mono mu-law WAV to play as the caller (default: silence)")
	flag.StringVar(&cfg.outPath, "out", "", "write assistant audio to this WAV file")
	flag.IntVar(&listenMS, "listen-ms", 10000, "keep the call open this long after the caller audio ends")
	flag.Float64Var(&cfg.realtime, "realtime", 1.0, "frame pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print call progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if listenMS < 0 {
		listenMS = 0
	}
	cfg.listen = time.Duration(listenMS) * time.Millisecond
	if cfg.streamID == "" {
		cfg.streamID = "MZsim" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return cfg, nil
}

func callURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/call"
	u.RawQuery = ""
	return u.String(), nil
}

func callerAudio(path string) ([][]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	samples, err := audio.DecodeWAVMulaw(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return audio.Frames(samples, audio.MulawFrameBytes), nil
}

func run(ctx context.Context, cfg options) (report, error) {
	frames, err := callerAudio(cfg.wavPath)
	if err != nil {
		return report{}, err
	}
	wsURL, err := callURL(cfg.baseURL)
	if err != nil {
		return report{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return report{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	rec := &recorder{started: time.Now()}
	readErrCh := make(chan error, 1)
	go readLoop(conn, rec, readErrCh)

	sid := cfg.streamID
	if err := conn.WriteJSON(eventFrame{Event: string(protocol.TelephonyEventConnected)}); err != nil {
		return report{}, err
	}
	if err := conn.WriteJSON(startFrame{
		Event:     string(protocol.TelephonyEventStart),
		StreamSID: sid,
		Start: startPayload{
			StreamSID: sid,
			CallSID:   "CAsim" + sid,
			Tracks:    []string{"inbound"},
			CustomParameters: map[string]string{
				protocol.ParamCalledNumber: cfg.to,
				protocol.ParamCallerNumber: cfg.from,
			},
		},
	}); err != nil {
		return report{}, err
	}
	if cfg.verbose {
		fmt.Printf("callsim: stream=%s frames=%d listen=%s\n", sid, len(frames), cfg.listen)
	}

	frameDuration := time.Duration(float64(20*time.Millisecond) / cfg.realtime)
	silenceFrames := int(cfg.listen / (20 * time.Millisecond))
	total := len(frames) + silenceFrames
	silence := audio.Silence(audio.MulawFrameBytes)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	sent := 0
	for sent < total {
		select {
		case <-ctx.Done():
			return report{}, ctx.Err()
		case err := <-readErrCh:
			return report{}, fmt.Errorf("ws read: %w", err)
		case <-ticker.C:
		}

		payload := silence
		if sent < len(frames) {
			payload = frames[sent]
		}
		if err := conn.WriteJSON(mediaFrame{
			Event:     string(protocol.TelephonyEventMedia),
			StreamSID: sid,
			Media: mediaPayload{
				Track:     "inbound",
				Chunk:     strconv.Itoa(sent + 1),
				Timestamp: strconv.Itoa(sent * 20),
				Payload:   base64.StdEncoding.EncodeToString(payload),
			},
		}); err != nil {
			return report{}, fmt.Errorf("send media: %w", err)
		}
		sent++

		for _, name := range rec.pendingMarks() {
			if err := conn.WriteJSON(markFrame{Event: string(protocol.TelephonyEventMark), StreamSID: sid, Mark: markPayload{Name: name}}); err != nil {
				return report{}, fmt.Errorf("echo mark: %w", err)
			}
		}
	}

	if err := conn.WriteJSON(eventFrame{Event: string(protocol.TelephonyEventStop), StreamSID: sid}); err != nil {
		return report{}, fmt.Errorf("send stop: %w", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	rep, assistantAudio := rec.snapshot()
	rep.FramesSent = sent
	if cfg.outPath != "" && len(assistantAudio) > 0 {
		if err := audio.WriteWAVMulawFile(cfg.outPath, assistantAudio); err != nil {
			return rep, fmt.Errorf("write %s: %w", cfg.outPath, err)
		}
	}
	if cfg.verbose {
		fmt.Println("callsim: call completed")
	}
	return rep, nil
}

func readLoop(conn *websocket.Conn, rec *recorder, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		rec.handle(data)
	}
}
