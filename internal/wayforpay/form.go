package wayforpay

import (
	"html/template"
	"io"
)

var formTemplate = template.Must(template.New("wayforpay-form").Parse(`<!DOCTYPE html>
<html lang="uk">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Перенаправлення на оплату...</title>
</head>
<body>
<p>Перенаправлення на сторінку оплати...</p>
<form id="wayforpayForm" method="POST" action="{{.Action}}">
<input type="hidden" name="merchantAccount" value="{{.MerchantAccount}}">
<input type="hidden" name="merchantDomainName" value="{{.MerchantDomainName}}">
<input type="hidden" name="orderReference" value="{{.OrderReference}}">
<input type="hidden" name="orderDate" value="{{.OrderDate}}">
<input type="hidden" name="amount" value="{{.Amount}}">
<input type="hidden" name="currency" value="{{.Currency}}">
<input type="hidden" name="productName[]" value="{{.ProductName}}">
<input type="hidden" name="productCount[]" value="{{.ProductCount}}">
<input type="hidden" name="productPrice[]" value="{{.ProductPrice}}">
{{- if .ReturnURL}}
<input type="hidden" name="returnUrl" value="{{.ReturnURL}}">
{{- end}}
{{- if .ServiceURL}}
<input type="hidden" name="serviceUrl" value="{{.ServiceURL}}">
{{- end}}
<input type="hidden" name="merchantSignature" value="{{.MerchantSignature}}">
<noscript><button type="submit">Оплатити</button></noscript>
</form>
<script>document.getElementById('wayforpayForm').submit();</script>
</body>
</html>
`))

// RenderForm writes the auto-submitting widget page.
func RenderForm(w io.Writer, form FormData) error {
	return formTemplate.Execute(w, form)
}
