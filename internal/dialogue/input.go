package dialogue

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"booking-assistant/internal/clock"
	"booking-assistant/internal/domain"
)

// Kind tags what an Input carries.
type Kind int

const (
	KindEmpty Kind = iota
	KindText
	KindSelection
	KindCommand
	// Result kinds are produced by the orchestrator after executing an action.
	KindSlotsFound
	KindSlotsFailed
	KindSlotChecked
	KindBooked
	KindBookingFailed
)

// Command is a control word honoured from every step.
type Command int

const (
	CommandNone Command = iota
	CommandEnd
	CommandMenu
)

// SlotCheck is the outcome of validating a user-typed date and time.
type SlotCheck int

const (
	SlotCheckFree SlotCheck = iota
	SlotCheckInPast
	SlotCheckClosed
	SlotCheckTaken
	SlotCheckFailed
)

// BookingFailure distinguishes why a booking did not happen.
type BookingFailure int

const (
	FailureProvider BookingFailure = iota
	FailureConflict
)

// Input is the normalised form of whatever the state machine reacts to.
type Input struct {
	Kind Kind

	// Raw is the trimmed text as typed; Text is lowercased, accent-folded and
	// stripped of punctuation; Tokens are the words of Text.
	Raw    string
	Text   string
	Tokens []string
	// Number is set when the whole message is a small positive integer.
	Number int
	// Selection is the interaction id of a tapped button or list row.
	Selection string
	Command   Command
	// At is a date and time the user typed, in the operating zone.
	At *civil.DateTime

	Slots       []domain.Slot
	Slot        domain.Slot
	Check       SlotCheck
	Appointment domain.Appointment
	Failure     BookingFailure
}

var (
	endPhrases  = []string{"sair", "encerrar", "cancelar", "fim", "exit", "end", "cancel"}
	menuPhrases = []string{"menu", "oi", "ola", "inicio", "bom dia", "boa tarde", "boa noite", "hi", "hello"}
)

// commandWindow bounds how many words a message may have and still be read
// as a command; longer messages are content, not control.
const commandWindow = 4

// Normalize turns an inbound event into an Input. now and zone resolve
// partial dates such as "10/03 às 15h".
func Normalize(ev domain.InboundEvent, zone clock.Zone, now time.Time) Input {
	raw := strings.TrimSpace(ev.Text)
	text := Fold(raw)
	in := Input{Raw: raw, Text: text, Tokens: strings.Fields(text)}

	if id := strings.ToLower(strings.TrimSpace(ev.InteractionID)); id != "" {
		in.Kind = KindSelection
		in.Selection = id
		if n, ok := smallNumber(id); ok {
			in.Number = n
		}
		return in
	}
	if len(in.Tokens) == 0 {
		in.Kind = KindEmpty
		return in
	}
	if cmd := matchCommand(in.Tokens); cmd != CommandNone {
		in.Kind = KindCommand
		in.Command = cmd
		return in
	}
	in.Kind = KindText
	if len(in.Tokens) == 1 {
		if n, ok := smallNumber(in.Tokens[0]); ok {
			in.Number = n
		}
	}
	if at, ok := parseDateTime(strings.ToLower(raw), zone, now); ok {
		in.At = &at
	}
	return in
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s, removes diacritics and turns every run of non-letter,
// non-digit runes into a single space.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func matchCommand(tokens []string) Command {
	if len(tokens) > commandWindow {
		return CommandNone
	}
	for _, p := range endPhrases {
		if containsPhrase(tokens, p) {
			return CommandEnd
		}
	}
	for _, p := range menuPhrases {
		if containsPhrase(tokens, p) {
			return CommandMenu
		}
	}
	return CommandNone
}

func containsPhrase(tokens []string, phrase string) bool {
	words := strings.Fields(phrase)
	for i := 0; i+len(words) <= len(tokens); i++ {
		match := true
		for j, w := range words {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func smallNumber(s string) (int, bool) {
	if len(s) == 0 || len(s) > 3 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

var (
	dateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	timeRe = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2})|h(\d{2})?)`)
)

// parseDateTime reads "dd/mm[/yyyy] ... hh:mm" or "... 15h" / "15h30". A
// date without a year that already passed this year rolls to the next one.
func parseDateTime(lower string, zone clock.Zone, now time.Time) (civil.DateTime, bool) {
	loc := dateRe.FindStringSubmatchIndex(lower)
	if loc == nil {
		return civil.DateTime{}, false
	}
	m := dateRe.FindStringSubmatch(lower)
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])

	today := zone.ToCivil(now).Date
	year := today.Year
	explicitYear := m[3] != ""
	if explicitYear {
		year, _ = strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
	}

	tm := timeRe.FindStringSubmatch(lower[loc[1]:])
	if tm == nil {
		return civil.DateTime{}, false
	}
	hour, _ := strconv.Atoi(tm[1])
	minute := 0
	switch {
	case tm[2] != "":
		minute, _ = strconv.Atoi(tm[2])
	case tm[3] != "":
		minute, _ = strconv.Atoi(tm[3])
	}
	if hour > 23 || minute > 59 {
		return civil.DateTime{}, false
	}

	date := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if !date.IsValid() {
		return civil.DateTime{}, false
	}
	if !explicitYear && date.Before(today) {
		date.Year++
		if !date.IsValid() {
			return civil.DateTime{}, false
		}
	}
	return civil.DateTime{Date: date, Time: civil.Time{Hour: hour, Minute: minute}}, true
}

// SlotsFound builds the result input for a completed availability lookup.
func SlotsFound(slots []domain.Slot) Input {
	return Input{Kind: KindSlotsFound, Slots: slots}
}

// SlotsFailed builds the result input for a failed availability lookup.
func SlotsFailed() Input {
	return Input{Kind: KindSlotsFailed}
}

// SlotChecked builds the result input for a typed date/time check.
func SlotChecked(slot domain.Slot, check SlotCheck) Input {
	return Input{Kind: KindSlotChecked, Slot: slot, Check: check}
}

// Booked builds the result input for a successful booking.
func Booked(appt domain.Appointment) Input {
	return Input{Kind: KindBooked, Appointment: appt}
}

// BookingFailed builds the result input for a failed booking.
func BookingFailed(f BookingFailure) Input {
	return Input{Kind: KindBookingFailed, Failure: f}
}
