package archiver

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

type SmtpConfig struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
}

// Notifier mails a plain-text run report after passes that processed
// new invoices or recorded failures. Notifier errors are logged by the
// caller, never fatal.
type Notifier struct {
	config SmtpConfig
}

func NewNotifier(config SmtpConfig) Notifier {
	return Notifier{config: config}
}

func (n Notifier) Enabled() bool {
	return n.config.Host != "" && len(n.config.Recipients) > 0
}

// ShouldNotify reports whether the run is worth a mail at all: quiet
// runs with nothing new and nothing failed stay quiet.
func (n Notifier) ShouldNotify(summary Summary) bool {
	return n.Enabled() && (summary.InvoicesNew > 0 || summary.InvoicesFailed > 0)
}

func (n Notifier) SendReport(ctx context.Context, summary Summary) error {
	_, span := tracer.Start(ctx, "notifier:SendReport")
	defer span.End()

	sender := n.config.Sender
	if sender == "" {
		sender = n.config.Username
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("invoicefetch <%s>", sender)
	mail.To = n.config.Recipients
	mail.Subject = fmt.Sprintf(
		"invoicefetch: %d new invoice(s), %d failure(s)",
		summary.InvoicesNew, summary.InvoicesFailed,
	)
	mail.Text = []byte(reportBody(summary))

	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)
	err := mail.Send(addr, smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send run report")
		return fmt.Errorf("send run report: %w", err)
	}
	return nil
}

func reportBody(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Archive run %s\n\n", summary.RunID)
	fmt.Fprintf(&b, "Years scanned:    %v\n", summary.Years)
	fmt.Fprintf(&b, "Orders scanned:   %d\n", summary.OrdersScanned)
	fmt.Fprintf(&b, "New invoices:     %d\n", summary.InvoicesNew)
	fmt.Fprintf(&b, "Already archived: %d\n", summary.InvoicesSkipped)
	fmt.Fprintf(&b, "Failed:           %d\n", summary.InvoicesFailed)

	if len(summary.Delivered) > 0 {
		b.WriteString("\nDelivered files:\n")
		for _, name := range summary.Delivered {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	if summary.InvoicesFailed > 0 {
		b.WriteString("\nFailed deliveries are retried on the next run.\n")
	}
	return b.String()
}
