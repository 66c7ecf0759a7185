package dialogue

import (
	"fmt"
	"strconv"
	"strings"

	"booking-assistant/internal/domain"
)

// Procedure is an entry of the service menu.
type Procedure struct {
	Name    string
	Details string
	// Keywords are folded words that select the procedure by name.
	Keywords []string
}

var procedures = []Procedure{
	{Name: "Harmonização facial", Details: "Avaliação personalizada do rosto com planejamento de preenchimento e toxina botulínica.", Keywords: []string{"harmonizacao", "facial", "botox", "preenchimento"}},
	{Name: "Clareamento dental", Details: "Clareamento em consultório ou caseiro supervisionado.", Keywords: []string{"clareamento"}},
	{Name: "Facetas", Details: "Facetas em resina ou porcelana para corrigir cor e formato.", Keywords: []string{"faceta", "facetas", "lente", "lentes"}},
	{Name: "Limpeza", Details: "Profilaxia com remoção de tártaro e polimento.", Keywords: []string{"limpeza", "profilaxia"}},
	{Name: "Restaurações", Details: "Restaurações estéticas em resina.", Keywords: []string{"restauracao", "restauracoes", "obturacao"}},
	{Name: "Extração de siso", Details: "Avaliação com exame de imagem e extração.", Keywords: []string{"siso", "extracao"}},
}

// DefaultProcedure is recorded when the user books straight from the menu.
const DefaultProcedure = "Consulta de avaliação"

const (
	optYes                = "yes"
	optNo                 = "no"
	optPeriodMorning      = "period_morning"
	optPeriodAfternoon    = "period_afternoon"
	optPeriodAny          = "period_any"
	optAppointmentConfirm = "appointment_confirm"
	optAppointmentCancel  = "appointment_cancel"
	optSlotPrefix         = "slot_"
	optProcedurePrefix    = "proc_"
)

const (
	textWelcome = "Olá! Seja bem-vindo(a) à clínica da Dra. Gabriela 😊\n\nComo posso te ajudar?\n" +
		"1️⃣ Agendar consulta\n2️⃣ Procedimentos\n3️⃣ Valores\n4️⃣ Endereço e horários\n5️⃣ Falar com a Dra. Gabriela"
	textNotUnderstood  = "Não entendi 🤔"
	textFarewell       = "Tudo bem! Quando precisar é só mandar um oi 👋"
	textPrices         = "Os valores dependem da avaliação clínica 💰\nA consulta de avaliação é o primeiro passo; digite 1 para agendar."
	textAddress        = "📍 Av. Washington Soares, 3663 - Edson Queiroz, Fortaleza - CE, Sala 910 - Torre 01\n🕘 Seg a Sex 09h-12h e 13h-18h, Sáb 08h-12h"
	textHandoff        = "Já estou avisando a Dra. Gabriela! Ela responde por aqui assim que possível 🦷✨"
	textServiceMenu    = "Trabalhamos com os procedimentos abaixo. Qual te interessa?"
	textPeriod         = "Qual período você prefere? Você também pode digitar dia e horário, ex.: 10/03 às 15h"
	textNoSlots        = "Não encontrei horários livres nesse período 😕 Quer tentar outro?"
	textSlotsFailed    = "Desculpe, não consegui consultar a agenda agora. Tente novamente em instantes 🙏"
	textAskName        = "Ótimo! Qual o nome completo do paciente?"
	textNameInvalid    = "Por favor, digite o nome completo do paciente."
	textBookingFailed  = "Desculpe, não consegui concluir o agendamento agora. Tente novamente em instantes 🙏"
	textSlotTaken      = "Poxa, esse horário acabou de ser ocupado 😕 Vamos escolher outro?"
	textFollowUp       = "Posso ajudar em algo mais?"
	textConfirmedAppt  = "Presença confirmada ✅ Até lá!"
	textCancelledAppt  = "Tudo bem, avisei a clínica que você não poderá comparecer. Quando quiser remarcar é só mandar um oi."
	textApptPrompt     = "Você confirma sua consulta? Para cancelar, responda \"desmarcar\"."
	textSlotInPast     = "Esse horário já passou. Escolha um horário a partir de amanhã."
	textSlotClosed     = "A clínica não atende nesse dia ou horário."
	textSlotBusy       = "Esse horário não está disponível."
	textUseListOrType  = "Escolha um dos horários pelo número ou digite dia e horário, ex.: 10/03 às 15h"
	textInvalidSlotFmt = "Opção inválida. Escolha um número de 1 a %d."
)

func menuChoice() Choice {
	return Choice{
		Prompt: textWelcome,
		Options: []domain.ChoiceOption{
			{ID: "1", Label: "Agendar consulta"},
			{ID: "2", Label: "Procedimentos"},
			{ID: "3", Label: "Valores"},
			{ID: "4", Label: "Endereço e horários"},
			{ID: "5", Label: "Falar com a Dra."},
		},
	}
}

func yesNoChoice(prompt string) Choice {
	return Choice{
		Prompt: prompt,
		Options: []domain.ChoiceOption{
			{ID: optYes, Label: "Sim"},
			{ID: optNo, Label: "Não"},
		},
	}
}

func serviceChoice() Choice {
	var b strings.Builder
	b.WriteString(textServiceMenu)
	opts := make([]domain.ChoiceOption, 0, len(procedures))
	for i, p := range procedures {
		n := strconv.Itoa(i + 1)
		fmt.Fprintf(&b, "\n%s. %s", n, p.Name)
		opts = append(opts, domain.ChoiceOption{ID: optProcedurePrefix + n, Label: p.Name})
	}
	return Choice{Prompt: b.String(), Options: opts}
}

func procedureChoice(p Procedure) Choice {
	return yesNoChoice(fmt.Sprintf("%s: %s\n\nDeseja agendar uma avaliação?", p.Name, p.Details))
}

func periodChoice(prefix string) Choice {
	prompt := textPeriod
	if prefix != "" {
		prompt = prefix + "\n" + textPeriod
	}
	return Choice{
		Prompt: prompt,
		Options: []domain.ChoiceOption{
			{ID: optPeriodMorning, Label: "Manhã"},
			{ID: optPeriodAfternoon, Label: "Tarde"},
			{ID: optPeriodAny, Label: "Qualquer horário"},
		},
	}
}

func slotChoice(labels []string) Choice {
	var b strings.Builder
	b.WriteString("Horários disponíveis:")
	opts := make([]domain.ChoiceOption, 0, len(labels))
	for i, l := range labels {
		n := strconv.Itoa(i + 1)
		fmt.Fprintf(&b, "\n%s. %s", n, l)
		opts = append(opts, domain.ChoiceOption{ID: optSlotPrefix + n, Label: l})
	}
	b.WriteString("\n\nResponda com o número do horário desejado.")
	return Choice{Prompt: b.String(), Options: opts}
}

func slotConfirmChoice(label string) Choice {
	return yesNoChoice(fmt.Sprintf("Confirma o horário %s?", label))
}

func appointmentChoice(label string) Choice {
	prompt := textApptPrompt
	if label != "" {
		prompt = fmt.Sprintf("Lembrete: sua consulta é %s.\n%s", label, textApptPrompt)
	}
	return Choice{
		Prompt: prompt,
		Options: []domain.ChoiceOption{
			{ID: optAppointmentConfirm, Label: "Confirmar"},
			{ID: optAppointmentCancel, Label: "Desmarcar"},
		},
	}
}

// AppointmentChoice is the confirm-or-cancel prompt sent by reminder sweeps.
func AppointmentChoice(label string) Choice {
	return appointmentChoice(label)
}

func bookedText(name, label string) string {
	return fmt.Sprintf("Agendamento confirmado ✅\nPaciente: %s\nHorário: %s", name, label)
}

func operatorBookedText(userID, name, procedure, label string) string {
	return fmt.Sprintf("Novo agendamento: %s (%s), %s, %s", name, userID, procedure, label)
}

func operatorHandoffText(userID string) string {
	return fmt.Sprintf("O paciente %s pediu para falar com a Dra. Gabriela.", userID)
}

func operatorCancelText(userID, name, label string) string {
	who := userID
	if name != "" {
		who = fmt.Sprintf("%s (%s)", name, userID)
	}
	if label == "" {
		return fmt.Sprintf("%s desmarcou a consulta.", who)
	}
	return fmt.Sprintf("%s desmarcou a consulta de %s.", who, label)
}

func slotCheckText(c SlotCheck) string {
	switch c {
	case SlotCheckInPast:
		return textSlotInPast
	case SlotCheckClosed:
		return textSlotClosed
	default:
		return textSlotBusy
	}
}
