package email

import (
	"bytes"
	"html/template"
	"time"
)

var activatedTmpl = template.Must(template.New("activated").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<p>Bonjour {{.Name}},</p>
<p>Votre abonnement <strong>{{.PlanName}}</strong> est actif jusqu'au {{.End.Format "02/01/2006"}}.</p>
<p>Montant réglé : {{.Amount}} {{.Currency}}.</p>
<p>Vos exports PDF et Excel sont désormais illimités.</p>
<p>L'équipe FinCash</p>
</body></html>`))

// Activation holds the data of a subscription receipt.
type Activation struct {
	To       string
	Name     string
	PlanName string
	Amount   int64
	Currency string
	End      time.Time
}

// ActivationMessage renders the receipt sent when a paid plan starts.
func ActivationMessage(a Activation) (Message, error) {
	if a.Name == "" {
		a.Name = a.To
	}
	var buf bytes.Buffer
	if err := activatedTmpl.Execute(&buf, a); err != nil {
		return Message{}, err
	}
	return Message{
		To:       a.To,
		Subject:  "Votre abonnement FinCash " + a.PlanName + " est actif",
		BodyHTML: buf.String(),
		Tag:      "subscription-activated",
	}, nil
}
