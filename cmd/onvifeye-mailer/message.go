package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"
)

const legalFooter = `Please notify the sender immediately by e-mail if you have
received this e-mail by mistake and delete this e-mail from
your system. If you are not the intended recipient you are
notified that disclosing, copying, distributing or taking
any action in reliance on the contents of this information
is strictly prohibited.`

// buildMessage assembles an RFC 2045 message: multipart/related wrapping a
// multipart/alternative (plain + HTML) and, when present, the still image
// referenced from the HTML by content id.
func buildMessage(cfg *mailConfig, subject, body string, jpeg []byte) []byte {
	footer := ""
	if cfg.AddLegalFooter {
		footer = "\n\n" + legalFooter
	}

	var buf bytes.Buffer
	related := multipart.NewWriter(&buf)
	cid := fmt.Sprintf("still-%d@onvifeye", time.Now().UnixNano())

	fmt.Fprintf(&buf, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=%q\r\n\r\n", related.Boundary())

	// Alternative part: plain text and HTML renderings of the same body.
	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)

	textPart, _ := altWriter.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	fmt.Fprintf(textPart, "%s%s\r\n", body, footer)

	htmlPart, _ := altWriter.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	htmlBody := strings.ReplaceAll(body, "\n", "<br/>")
	htmlFooter := strings.ReplaceAll(footer, "\n", "<br/>")
	img := ""
	if len(jpeg) > 0 {
		img = fmt.Sprintf(`<br/><br/><img src="cid:%s"/>`, cid)
	}
	fmt.Fprintf(htmlPart, "<html><body><br/><b>%s</b>%s%s</body></html>\r\n", htmlBody, img, htmlFooter)
	altWriter.Close()

	altPart, _ := related.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary())},
	})
	altPart.Write(alt.Bytes())

	if len(jpeg) > 0 {
		imgPart, _ := related.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"image/jpeg"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-ID":                {"<" + cid + ">"},
		})
		enc := base64.StdEncoding.EncodeToString(jpeg)
		// 76-column lines per RFC 2045.
		for len(enc) > 76 {
			fmt.Fprintf(imgPart, "%s\r\n", enc[:76])
			enc = enc[76:]
		}
		fmt.Fprintf(imgPart, "%s\r\n", enc)
	}
	related.Close()

	return buf.Bytes()
}
