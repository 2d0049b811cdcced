package httpapi

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"

	"github.com/ent0n29/callrelay/internal/policy"
	"github.com/ent0n29/callrelay/internal/protocol"
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// streamURL turns the public base URL into the wss:// address of /call.
func streamURL(publicURL, host string) (string, error) {
	base := strings.TrimSpace(publicURL)
	if base == "" {
		base = "https://" + host
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Scheme = "wss"
	u.Path = "/call"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// handleTwiML answers Twilio's voice webhook with a stream to /call. The
// called and caller numbers travel to the start event as stream parameters.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	wsURL, err := streamURL(s.cfg.PublicURL, r.Host)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "invalid_public_url", err.Error())
		return
	}

	var params []twimlParameter
	for _, name := range []string{protocol.ParamCalledNumber, protocol.ParamCallerNumber, protocol.ParamPhoneNumberSID} {
		if v := strings.TrimSpace(r.Form.Get(name)); v != "" {
			params = append(params, twimlParameter{Name: name, Value: v})
		}
	}
	s.logger.Info("twiml requested",
		"stream_url", wsURL,
		"called_number", policy.MaskNumber(r.Form.Get(protocol.ParamCalledNumber)),
		"caller_number", policy.MaskNumber(r.Form.Get(protocol.ParamCallerNumber)),
	)

	body, err := xml.Marshal(twimlResponse{
		Connect: twimlConnect{Stream: twimlStream{URL: wsURL, Parameters: params}},
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}
