package notify

import (
	"fmt"

	"github.com/hydrolia/checkout/internal/money"
	"github.com/hydrolia/checkout/internal/orders"
)

type template struct {
	Subject string
	Body    string
}

var emailTemplates = map[orders.Status]template{
	orders.StatusPending: {
		Subject: "Votre commande est en attente de paiement",
		Body:    "Merci pour votre commande. Pour la finaliser, veuillez procéder au paiement.",
	},
	orders.StatusPaid: {
		Subject: "Paiement reçu pour votre commande",
		Body:    "Nous avons bien reçu votre paiement. Votre commande va être traitée prochainement.",
	},
	orders.StatusProcessing: {
		Subject: "Votre commande est en cours de traitement",
		Body:    "Nous préparons actuellement votre commande.",
	},
	orders.StatusShipped: {
		Subject: "Votre commande a été expédiée",
		Body:    "Votre commande est en route ! Vous pouvez suivre sa livraison avec le numéro de suivi fourni.",
	},
	orders.StatusDelivered: {
		Subject: "Votre commande a été livrée",
		Body:    "Votre commande a été livrée. Nous espérons que vous en êtes satisfait !",
	},
	orders.StatusCancelled: {
		Subject: "Votre commande a été annulée",
		Body:    "Votre commande a été annulée. Si vous avez des questions, contactez notre service client.",
	},
}

// renderEmail builds the subject and HTML body for one status change.
// Unknown statuses fall back to a generic update message.
func renderEmail(orderID string, status orders.Status, totalCents int, extra string) (subject, html string) {
	tpl, ok := emailTemplates[status]
	if !ok {
		tpl = template{
			Subject: "Mise à jour de votre commande",
			Body:    "Le statut de votre commande a changé.",
		}
	}

	detail := ""
	if status == orders.StatusPaid && totalCents > 0 {
		detail += fmt.Sprintf(`<p style="font-size: 16px; line-height: 1.5;">Montant total : %s</p>`, money.FormatEUR(totalCents))
	}
	if extra != "" {
		detail += fmt.Sprintf(`<p style="font-size: 16px; line-height: 1.5;">%s</p>`, extra)
	}

	html = fmt.Sprintf(`
      <div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
        <h1 style="color: #2563eb;">%s</h1>
        <p style="font-size: 16px; line-height: 1.5;">%s</p>
        %s
        <p style="font-size: 14px; color: #666;">
          Numéro de commande : %s<br>
          Pour suivre votre commande, connectez-vous à votre espace client.
        </p>
        <div style="margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee;">
          <p style="font-size: 12px; color: #666;">
            Cet email a été envoyé automatiquement, merci de ne pas y répondre.<br>
            © Hydrolia. Tous droits réservés.
          </p>
        </div>
      </div>`, tpl.Subject, tpl.Body, detail, orderID)

	return tpl.Subject, html
}
