package booking

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	summaryPrefix = "Consulta - "
	markerPrefix  = "booking-assistant:"
)

// Details is what an event description carries about its booking.
type Details struct {
	UserID       string `json:"user_id"`
	Procedure    string `json:"procedure,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
}

// Summary is the calendar event title for a customer.
func Summary(customerName string) string {
	return summaryPrefix + strings.TrimSpace(customerName)
}

// CustomerFromSummary reverses Summary.
func CustomerFromSummary(summary string) string {
	return strings.TrimSpace(strings.TrimPrefix(summary, summaryPrefix))
}

// Description renders a human-readable event body followed by a marker line
// that ParseDescription can decode without any local state.
func Description(req Request) string {
	d := Details{UserID: req.UserID, Procedure: req.Procedure, CustomerName: req.CustomerName}
	marker, _ := json.Marshal(d)

	var b strings.Builder
	fmt.Fprintf(&b, "Paciente: %s\n", strings.TrimSpace(req.CustomerName))
	fmt.Fprintf(&b, "Telefone: (%s)\n", req.UserID)
	if req.Procedure != "" {
		fmt.Fprintf(&b, "Procedimento: %s\n", req.Procedure)
	}
	b.WriteString(markerPrefix + " " + string(marker))
	return b.String()
}

// legacyPhone matches the "(5585...)" phone form used before the marker line existed.
var legacyPhone = regexp.MustCompile(`\((\+?\d{8,15})\)`)

// ParseDescription recovers booking details from an event description.
func ParseDescription(desc string) (Details, bool) {
	sc := bufio.NewScanner(strings.NewReader(desc))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, markerPrefix) {
			continue
		}
		var d Details
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, markerPrefix))), &d); err == nil && d.UserID != "" {
			return d, true
		}
	}
	if m := legacyPhone.FindStringSubmatch(desc); m != nil {
		return Details{UserID: strings.TrimPrefix(m[1], "+")}, true
	}
	return Details{}, false
}
