package dialogue

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"booking-assistant/internal/clock"
	"booking-assistant/internal/domain"
)

var zone = clock.MustLoadZone(clock.DefaultZone)

// Monday 2026-03-09 09:00 in Fortaleza.
var now = time.Date(2026, time.March, 9, 12, 0, 0, 0, time.UTC)

func text(s string) Input {
	return Normalize(domain.InboundEvent{MessageID: "m", UserID: "5585999990000", Text: s}, zone, now)
}

func selection(id string) Input {
	return Normalize(domain.InboundEvent{MessageID: "m", UserID: "5585999990000", InteractionID: id}, zone, now)
}

func TestFold(t *testing.T) {
	require.Equal(t, "manha", Fold("Manhã"))
	require.Equal(t, "ola tudo bem", Fold("  Olá!!  tudo   bem? "))
	require.Equal(t, "1", Fold("1️⃣"))
	require.Equal(t, "", Fold(" \t\n "))
}

func TestNormalize_Kinds(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		kind    Kind
		command Command
		number  int
	}{
		{name: "empty", in: text(""), kind: KindEmpty},
		{name: "whitespace", in: text("   "), kind: KindEmpty},
		{name: "punctuation only", in: text("?!"), kind: KindEmpty},
		{name: "greeting", in: text("Oi"), kind: KindCommand, command: CommandMenu},
		{name: "greeting phrase", in: text("Bom dia!"), kind: KindCommand, command: CommandMenu},
		{name: "accented greeting", in: text("Olá"), kind: KindCommand, command: CommandMenu},
		{name: "end", in: text("Cancelar"), kind: KindCommand, command: CommandEnd},
		{name: "end wins over greeting", in: text("oi, quero sair"), kind: KindCommand, command: CommandEnd},
		{name: "long message is content", in: text("oi eu queria saber sobre limpeza"), kind: KindText},
		{name: "number", in: text(" 2 "), kind: KindText, number: 2},
		{name: "zero is not an option", in: text("0"), kind: KindText},
		{name: "free text", in: text("Ana Silva"), kind: KindText},
		{name: "selection", in: selection("SLOT_3"), kind: KindSelection},
		{name: "numeric selection", in: selection("4"), kind: KindSelection, number: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.kind, tt.in.Kind)
			require.Equal(t, tt.command, tt.in.Command)
			require.Equal(t, tt.number, tt.in.Number)
		})
	}
	require.Equal(t, "slot_3", selection("SLOT_3").Selection)
}

func TestNormalize_CommandsDoNotMatchInsideWords(t *testing.T) {
	in := text("Oiara")
	require.Equal(t, KindText, in.Kind)
}

func TestNormalize_DateTime(t *testing.T) {
	tests := []struct {
		raw  string
		want *civil.DateTime
	}{
		{raw: "10/03 às 15h", want: &civil.DateTime{Date: civil.Date{Year: 2026, Month: time.March, Day: 10}, Time: civil.Time{Hour: 15}}},
		{raw: "pode ser 12/03 15:30?", want: &civil.DateTime{Date: civil.Date{Year: 2026, Month: time.March, Day: 12}, Time: civil.Time{Hour: 15, Minute: 30}}},
		{raw: "11/03/2026 9h30", want: &civil.DateTime{Date: civil.Date{Year: 2026, Month: time.March, Day: 11}, Time: civil.Time{Hour: 9, Minute: 30}}},
		{raw: "05/01 as 10h", want: &civil.DateTime{Date: civil.Date{Year: 2027, Month: time.January, Day: 5}, Time: civil.Time{Hour: 10}}},
		{raw: "10/03", want: nil},
		{raw: "31/02 às 10h", want: nil},
		{raw: "10/03 às 25h", want: nil},
		{raw: "às 15h", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			in := text(tt.raw)
			require.Equal(t, tt.want, in.At)
		})
	}
}
