package protocol

// TelephonyEventType identifies Twilio Media Streams event kinds.
type TelephonyEventType string

const (
	TelephonyEventConnected TelephonyEventType = "connected"
	TelephonyEventStart     TelephonyEventType = "start"
	TelephonyEventMedia     TelephonyEventType = "media"
	TelephonyEventMark      TelephonyEventType = "mark"
	TelephonyEventStop      TelephonyEventType = "stop"
	TelephonyEventClose     TelephonyEventType = "close"
	TelephonyEventClear     TelephonyEventType = "clear"
)

// Custom TwiML <Parameter> names carried on the start event.
const (
	ParamCalledNumber   = "To"
	ParamCallerNumber   = "From"
	ParamPhoneNumberSID = "phoneNumberSid"
)

type telephonyEnvelope struct {
	Event     TelephonyEventType `json:"event"`
	StreamSID string             `json:"streamSid,omitempty"`
	Start     *startPayload      `json:"start,omitempty"`
	Media     *mediaPayload      `json:"media,omitempty"`
	Mark      *markPayload       `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Timestamp Millis `json:"timestamp"`
	Payload   string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

type TelephonyConnected struct{}

type TelephonyStart struct {
	StreamSID       string
	CallSID         string
	CalledNumber    string
	CallerNumber    string
	PhoneNumberSID  string
	CustomParameter map[string]string
}

type TelephonyMedia struct {
	StreamSID string
	Payload   string
	Timestamp int64
}

type TelephonyMark struct {
	StreamSID string
	Name      string
}

// TelephonyStop covers both "stop" and the legacy "close" event.
type TelephonyStop struct {
	StreamSID string
}

// ParseTelephonyEvent decodes one Twilio Media Streams frame.
func ParseTelephonyEvent(raw []byte) (any, error) {
	var env telephonyEnvelope
	if err := decode(raw, &env); err != nil {
		return nil, err
	}

	switch env.Event {
	case TelephonyEventConnected:
		return TelephonyConnected{}, nil
	case TelephonyEventStart:
		if env.Start == nil || env.Start.StreamSID == "" {
			return nil, errMissing("start.streamSid")
		}
		params := env.Start.CustomParameters
		return TelephonyStart{
			StreamSID:       env.Start.StreamSID,
			CallSID:         env.Start.CallSID,
			CalledNumber:    params[ParamCalledNumber],
			CallerNumber:    params[ParamCallerNumber],
			PhoneNumberSID:  params[ParamPhoneNumberSID],
			CustomParameter: params,
		}, nil
	case TelephonyEventMedia:
		if env.Media == nil {
			return nil, errMissing("media")
		}
		return TelephonyMedia{
			StreamSID: env.StreamSID,
			Payload:   env.Media.Payload,
			Timestamp: int64(env.Media.Timestamp),
		}, nil
	case TelephonyEventMark:
		m := TelephonyMark{StreamSID: env.StreamSID}
		if env.Mark != nil {
			m.Name = env.Mark.Name
		}
		return m, nil
	case TelephonyEventStop, TelephonyEventClose:
		return TelephonyStop{StreamSID: env.StreamSID}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// OutboundMedia plays an audio payload on the call.
type OutboundMedia struct {
	Event     TelephonyEventType `json:"event"`
	StreamSID string             `json:"streamSid"`
	Media     OutboundMediaBody  `json:"media"`
}

type OutboundMediaBody struct {
	Payload string `json:"payload"`
}

// OutboundMark asks Twilio to echo a mark once queued audio before it has played.
type OutboundMark struct {
	Event     TelephonyEventType `json:"event"`
	StreamSID string             `json:"streamSid"`
	Mark      *markPayload       `json:"mark,omitempty"`
}

// OutboundClear flushes audio queued for playback.
type OutboundClear struct {
	Event     TelephonyEventType `json:"event"`
	StreamSID string             `json:"streamSid"`
}

func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	return OutboundMedia{Event: TelephonyEventMedia, StreamSID: streamSID, Media: OutboundMediaBody{Payload: payload}}
}

func NewOutboundMark(streamSID, name string) OutboundMark {
	m := OutboundMark{Event: TelephonyEventMark, StreamSID: streamSID}
	if name != "" {
		m.Mark = &markPayload{Name: name}
	}
	return m
}

func NewOutboundClear(streamSID string) OutboundClear {
	return OutboundClear{Event: TelephonyEventClear, StreamSID: streamSID}
}
