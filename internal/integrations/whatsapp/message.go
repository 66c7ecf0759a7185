package whatsapp

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"booking-assistant/internal/domain"
)

// Cloud API limits for interactive messages.
const (
	maxButtons       = 3
	maxListRows      = 10
	maxBodyLen       = 1024
	maxButtonTitle   = 20
	maxRowTitle      = 24
	maxRowDesc       = 72
	maxTextLen       = 4096
	listButtonLabel  = "Ver opções"
	listSectionTitle = "Opções"
)

// outboundMessage is the request shape of POST /{phone-number-id}/messages.
type outboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
	Template         *template    `json:"template,omitempty"`
}

// template is a pre-approved message. It is the only kind the Cloud API
// accepts outside the 24h customer service window.
type template struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type interactive struct {
	Type   string            `json:"type"`
	Body   interactiveBody   `json:"body"`
	Action interactiveAction `json:"action"`
}

type interactiveBody struct {
	Text string `json:"text"`
}

type interactiveAction struct {
	Button   string        `json:"button,omitempty"`
	Buttons  []replyButton `json:"buttons,omitempty"`
	Sections []listSection `json:"sections,omitempty"`
}

type replyButton struct {
	Type  string     `json:"type"`
	Reply replyTitle `json:"reply"`
}

type replyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type listSection struct {
	Title string    `json:"title"`
	Rows  []listRow `json:"rows"`
}

type listRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// sendResponse is the minimal response shape of the messages endpoint.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func envelope(to, kind string) outboundMessage {
	return outboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(strings.TrimSpace(to), "+"),
		Type:             kind,
	}
}

func newTextMessage(to, text string) outboundMessage {
	m := envelope(to, "text")
	m.Text = &textBody{Body: truncate(text, maxTextLen)}
	return m
}

func newButtonMessage(to, prompt string, options []domain.ChoiceOption) outboundMessage {
	buttons := make([]replyButton, 0, len(options))
	for _, o := range options {
		buttons = append(buttons, replyButton{Type: "reply", Reply: replyTitle{ID: o.ID, Title: truncate(o.Label, maxButtonTitle)}})
	}
	m := envelope(to, "interactive")
	m.Interactive = &interactive{
		Type:   "button",
		Body:   interactiveBody{Text: truncate(prompt, maxBodyLen)},
		Action: interactiveAction{Buttons: buttons},
	}
	return m
}

func newListMessage(to, prompt string, options []domain.ChoiceOption) outboundMessage {
	rows := make([]listRow, 0, len(options))
	for _, o := range options {
		row := listRow{ID: o.ID, Title: truncate(o.Label, maxRowTitle)}
		if row.Title != o.Label {
			row.Description = truncate(o.Label, maxRowDesc)
		}
		rows = append(rows, row)
	}
	m := envelope(to, "interactive")
	m.Interactive = &interactive{
		Type: "list",
		Body: interactiveBody{Text: truncate(prompt, maxBodyLen)},
		Action: interactiveAction{
			Button:   listButtonLabel,
			Sections: []listSection{{Title: listSectionTitle, Rows: rows}},
		},
	}
	return m
}

func newTemplateMessage(to, name, lang string, params []string) outboundMessage {
	m := envelope(to, "template")
	m.Template = &template{Name: name, Language: templateLanguage{Code: lang}}
	if len(params) > 0 {
		body := templateComponent{Type: "body", Parameters: make([]templateParameter, 0, len(params))}
		for _, p := range params {
			body.Parameters = append(body.Parameters, templateParameter{Type: "text", Text: p})
		}
		m.Template.Components = []templateComponent{body}
	}
	return m
}

func numberedText(prompt string, options []domain.ChoiceOption) string {
	var b strings.Builder
	b.WriteString(prompt)
	for i, o := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o.Label)
	}
	return b.String()
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
