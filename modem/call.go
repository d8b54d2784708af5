package modem

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Call is one incoming call as reported by the modem. The timestamp is
// rebuilt against the current calendar year, the modem does not transmit
// one. The name is normalized to upper case. The number may be a sentinel
// like "O" or "P" for withheld or private callers.
type Call struct {
	Time   time.Time
	Number string
	Name   string
}

func (c Call) String() string {
	return fmt.Sprintf("time=%s, number=%s, name=%s", c.Time.Format(time.RFC3339), c.Number, c.Name)
}

// ProtocolError reports an unsolicited caller-ID payload that does not
// follow the KEY = VALUE scheme.
type ProtocolError struct {
	Payload string
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed caller-ID payload (%s): %q", e.Reason, e.Payload)
}

var payloadCodec encoding.Encoding = charmap.ISO8859_1 // caller names may carry high bytes

// decodePayload turns the raw bytes from the serial line into UTF-8.
func decodePayload(chunk []byte) string {
	decoded, err := payloadCodec.NewDecoder().Bytes(chunk)
	if err != nil {
		return string(chunk)
	}
	return string(decoded)
}

const pairSeparator = " = "

var requiredKeys = []string{"DATE", "TIME", "NMBR", "NAME"}

// parseCall decodes the KEY = VALUE lines of one caller-ID report.
func parseCall(lines []string, now time.Time) (*Call, error) {
	pairs := make(map[string]string, len(lines))
	for _, line := range lines {
		key, value, found := strings.Cut(line, pairSeparator)
		if !found || key == "" {
			return nil, &ProtocolError{Payload: line, Reason: "expected KEY = VALUE"}
		}
		pairs[key] = value
	}

	for _, key := range requiredKeys {
		if _, ok := pairs[key]; !ok {
			return nil, &ProtocolError{
				Payload: strings.Join(lines, "\n"),
				Reason:  fmt.Sprintf("missing key %s", key),
			}
		}
	}

	timestamp, err := callTime(pairs["DATE"], pairs["TIME"], now)
	if err != nil {
		return nil, &ProtocolError{Payload: strings.Join(lines, "\n"), Reason: err.Error()}
	}

	return &Call{
		Time:   timestamp,
		Number: pairs["NMBR"],
		Name:   strings.ToUpper(pairs["NAME"]),
	}, nil
}

// callTime rebuilds the call's timestamp from the MMDD and HHMM fields and
// the current calendar year. A call received right before midnight on New
// Year's Eve but processed after it ends up dated a year off.
func callTime(date string, clock string, now time.Time) (time.Time, error) {
	parsed, err := time.ParseInLocation("01021504", date+clock, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable DATE %q TIME %q", date, clock)
	}
	return parsed.AddDate(now.Year(), 0, 0), nil
}
