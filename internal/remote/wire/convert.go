package wire

import (
	"fmt"

	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

func ToInvoice(w Invoice) remote.Invoice {
	inv := remote.Invoice{
		ID:          w.ID,
		ShopID:      w.ShopID,
		Amount:      w.Amount,
		Currency:    w.Currency,
		Product:     w.Product,
		Description: w.Description,
		DueDate:     w.DueDate,
		Status:      remote.InvoiceStatus(w.Status),
	}
	for _, line := range w.Cart {
		inv.Cart = append(inv.Cart, remote.CartLine(line))
	}
	return inv
}

func FromInvoice(inv remote.Invoice) Invoice {
	w := Invoice{
		ID:          inv.ID,
		ShopID:      inv.ShopID,
		Amount:      inv.Amount,
		Currency:    inv.Currency,
		Product:     inv.Product,
		Description: inv.Description,
		DueDate:     inv.DueDate,
		Status:      string(inv.Status),
	}
	for _, line := range inv.Cart {
		w.Cart = append(w.Cart, CartLine(line))
	}
	return w
}

func ToMethods(ws []PaymentMethod) []remote.MethodDescriptor {
	methods := make([]remote.MethodDescriptor, 0, len(ws))
	for _, w := range ws {
		d := remote.MethodDescriptor{Method: remote.MethodKind(w.Method)}
		for _, ps := range w.PaymentSystems {
			d.PaymentSystems = append(d.PaymentSystems, remote.PaymentSystem(ps))
		}
		for _, tp := range w.TokenProviders {
			d.TokenProviders = append(d.TokenProviders, remote.TokenProvider(tp))
		}
		methods = append(methods, d)
	}
	return methods
}

func FromMethods(ds []remote.MethodDescriptor) []PaymentMethod {
	methods := make([]PaymentMethod, 0, len(ds))
	for _, d := range ds {
		w := PaymentMethod{Method: string(d.Method)}
		for _, ps := range d.PaymentSystems {
			w.PaymentSystems = append(w.PaymentSystems, string(ps))
		}
		for _, tp := range d.TokenProviders {
			w.TokenProviders = append(w.TokenProviders, string(tp))
		}
		methods = append(methods, w)
	}
	return methods
}

// FromPaymentResourceParams fails when the instrument carries neither a card
// nor a wallet token.
func FromPaymentResourceParams(p remote.PaymentResourceParams) (PaymentResourceParams, error) {
	w := PaymentResourceParams{ClientInfo: ClientInfo{Fingerprint: p.Client.Fingerprint, IP: p.Client.IP}}
	switch {
	case p.Instrument.Card != nil:
		card := p.Instrument.Card
		w.PaymentTool = PaymentTool{
			PaymentToolType: ToolCardData,
			CardNumber:      card.Number,
			ExpDate:         card.ExpDate,
			CVV:             card.CVV,
			CardHolder:      card.CardholderName,
		}
	case p.Instrument.ApplePay != nil:
		ap := p.Instrument.ApplePay
		w.PaymentTool = PaymentTool{
			PaymentToolType: ToolTokenizedCardData,
			Provider:        "ApplePay",
			MerchantID:      ap.MerchantID,
			PaymentToken:    ap.PaymentToken,
		}
	default:
		return PaymentResourceParams{}, fmt.Errorf("payment instrument is empty")
	}
	return w, nil
}

func ToPaymentResourceParams(w PaymentResourceParams) remote.PaymentResourceParams {
	p := remote.PaymentResourceParams{Client: remote.ClientInfo{Fingerprint: w.ClientInfo.Fingerprint, IP: w.ClientInfo.IP}}
	switch w.PaymentTool.PaymentToolType {
	case ToolCardData:
		p.Instrument.Card = &remote.CardData{
			Number:         w.PaymentTool.CardNumber,
			ExpDate:        w.PaymentTool.ExpDate,
			CVV:            w.PaymentTool.CVV,
			CardholderName: w.PaymentTool.CardHolder,
		}
	case ToolTokenizedCardData:
		p.Instrument.ApplePay = &remote.ApplePayData{
			MerchantID:   w.PaymentTool.MerchantID,
			PaymentToken: w.PaymentTool.PaymentToken,
		}
	}
	return p
}

func ToPaymentResource(w PaymentResource) remote.PaymentResource {
	return remote.PaymentResource{
		PaymentToolToken: w.PaymentToolToken,
		PaymentSession:   w.PaymentSession,
		Details: remote.PaymentToolDetails{
			CardNumberMask: w.PaymentToolDetails.CardNumberMask,
			PaymentSystem:  remote.PaymentSystem(w.PaymentToolDetails.PaymentSystem),
			TokenProvider:  remote.TokenProvider(w.PaymentToolDetails.TokenProvider),
		},
	}
}

func FromPaymentResource(r remote.PaymentResource) PaymentResource {
	return PaymentResource{
		PaymentToolToken: r.PaymentToolToken,
		PaymentSession:   r.PaymentSession,
		PaymentToolDetails: PaymentToolDetails{
			CardNumberMask: r.Details.CardNumberMask,
			PaymentSystem:  string(r.Details.PaymentSystem),
			TokenProvider:  string(r.Details.TokenProvider),
		},
	}
}

func toFlow(w Flow) remote.PaymentFlow {
	f := remote.PaymentFlow{Kind: remote.FlowInstant}
	if w.Type == FlowHold {
		f.Kind = remote.FlowHold
		f.OnHoldExpiration = remote.HoldExpiration(w.OnHoldExpiration)
		if w.HeldUntil != nil {
			f.HeldUntil = *w.HeldUntil
		}
	}
	return f
}

func fromFlow(f remote.PaymentFlow) Flow {
	if f.Kind != remote.FlowHold {
		return Flow{Type: FlowInstant}
	}
	w := Flow{Type: FlowHold, OnHoldExpiration: string(f.OnHoldExpiration)}
	if !f.HeldUntil.IsZero() {
		until := f.HeldUntil
		w.HeldUntil = &until
	}
	return w
}

func toPayer(w Payer) remote.Payer {
	return remote.Payer{PaymentToolToken: w.PaymentToolToken, PaymentSession: w.PaymentSession, Email: w.ContactInfo.Email}
}

func fromPayer(p remote.Payer) Payer {
	return Payer{
		PayerType:        "PaymentResourcePayer",
		PaymentToolToken: p.PaymentToolToken,
		PaymentSession:   p.PaymentSession,
		ContactInfo:      ContactInfo{Email: p.Email},
	}
}

func FromPaymentParams(p remote.PaymentParams) PaymentParams {
	return PaymentParams{ExternalID: p.ExternalID, Flow: fromFlow(p.Flow), Payer: fromPayer(p.Payer)}
}

func ToPaymentParams(w PaymentParams) remote.PaymentParams {
	return remote.PaymentParams{ExternalID: w.ExternalID, Flow: toFlow(w.Flow), Payer: toPayer(w.Payer)}
}

func ToPayment(w Payment) remote.Payment {
	p := remote.Payment{
		ID:         w.ID,
		ExternalID: w.ExternalID,
		InvoiceID:  w.InvoiceID,
		Amount:     w.Amount,
		Currency:   w.Currency,
		Flow:       toFlow(w.Flow),
		Payer:      toPayer(w.Payer),
		Status:     remote.PaymentStatus(w.Status),
		CreatedAt:  w.CreatedAt,
	}
	if w.Error != nil {
		se := w.Error.ServerError()
		p.Error = &se
	}
	return p
}

func FromPayment(p remote.Payment) Payment {
	w := Payment{
		ID:         p.ID,
		ExternalID: p.ExternalID,
		InvoiceID:  p.InvoiceID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Flow:       fromFlow(p.Flow),
		Payer:      fromPayer(p.Payer),
		Status:     string(p.Status),
		CreatedAt:  p.CreatedAt,
	}
	if p.Error != nil {
		e := FromServerError(*p.Error)
		w.Error = &e
	}
	return w
}

func toInteraction(w UserInteraction) remote.UserInteraction {
	ui := remote.UserInteraction{Kind: remote.InteractionKind(w.InteractionType)}
	switch ui.Kind {
	case remote.InteractionRedirect:
		if w.Request != nil {
			req := remote.BrowserRequest{Method: remote.RequestGet, URI: w.Request.URITemplate}
			if w.Request.RequestType == RequestBrowserPost {
				req.Method = remote.RequestPost
			}
			for _, f := range w.Request.Form {
				req.Form = append(req.Form, remote.FormField(f))
			}
			ui.Redirect = &req
		}
	case remote.InteractionPaymentTerminalReceipt:
		receipt := remote.PaymentTerminalReceipt{ShortPaymentID: w.ShortPaymentID}
		if w.DueDate != nil {
			receipt.DueDate = *w.DueDate
		}
		ui.Receipt = &receipt
	}
	return ui
}

func fromInteraction(ui remote.UserInteraction) UserInteraction {
	w := UserInteraction{InteractionType: string(ui.Kind)}
	if ui.Redirect != nil {
		req := &BrowserRequest{RequestType: RequestBrowserGet, URITemplate: ui.Redirect.URI}
		if ui.Redirect.Method == remote.RequestPost {
			req.RequestType = RequestBrowserPost
		}
		for _, f := range ui.Redirect.Form {
			req.Form = append(req.Form, FormField(f))
		}
		w.Request = req
	}
	if ui.Receipt != nil {
		w.ShortPaymentID = ui.Receipt.ShortPaymentID
		due := ui.Receipt.DueDate
		w.DueDate = &due
	}
	return w
}

func toChange(w InvoiceChange) remote.InvoiceChange {
	c := remote.InvoiceChange{Kind: remote.ChangeKind(w.ChangeType), PaymentID: w.PaymentID}
	switch c.Kind {
	case remote.ChangeInvoiceCreated:
		if w.Invoice != nil {
			inv := ToInvoice(*w.Invoice)
			c.Invoice = &inv
		}
	case remote.ChangeInvoiceStatusChanged:
		c.InvoiceStatus = remote.InvoiceStatus(w.Status)
	case remote.ChangePaymentStarted:
		if w.Payment != nil {
			p := ToPayment(*w.Payment)
			c.Payment = &p
			if c.PaymentID == "" {
				c.PaymentID = p.ID
			}
		}
	case remote.ChangePaymentStatusChanged:
		c.PaymentStatus = remote.PaymentStatus(w.Status)
		if w.Error != nil {
			se := w.Error.ServerError()
			c.Error = &se
		}
	case remote.ChangePaymentInteractionRequested:
		if w.UserInteraction != nil {
			ui := toInteraction(*w.UserInteraction)
			c.Interaction = &ui
		}
	case remote.ChangeRefundStarted, remote.ChangeRefundStatusChanged:
		if w.Refund != nil {
			c.RefundID = w.Refund.ID
			c.RefundStatus = w.Refund.Status
		}
	}
	return c
}

func fromChange(c remote.InvoiceChange) InvoiceChange {
	w := InvoiceChange{ChangeType: string(c.Kind), PaymentID: c.PaymentID}
	switch c.Kind {
	case remote.ChangeInvoiceCreated:
		if c.Invoice != nil {
			inv := FromInvoice(*c.Invoice)
			w.Invoice = &inv
		}
	case remote.ChangeInvoiceStatusChanged:
		w.Status = string(c.InvoiceStatus)
	case remote.ChangePaymentStarted:
		if c.Payment != nil {
			p := FromPayment(*c.Payment)
			w.Payment = &p
		}
	case remote.ChangePaymentStatusChanged:
		w.Status = string(c.PaymentStatus)
		if c.Error != nil {
			e := FromServerError(*c.Error)
			w.Error = &e
		}
	case remote.ChangePaymentInteractionRequested:
		if c.Interaction != nil {
			ui := fromInteraction(*c.Interaction)
			w.UserInteraction = &ui
		}
	case remote.ChangeRefundStarted, remote.ChangeRefundStatusChanged:
		w.Refund = &Refund{ID: c.RefundID, Status: c.RefundStatus}
	}
	return w
}

func ToEvents(ws []InvoiceEvent) []remote.InvoiceEvent {
	events := make([]remote.InvoiceEvent, 0, len(ws))
	for _, w := range ws {
		e := remote.InvoiceEvent{ID: w.ID, CreatedAt: w.CreatedAt}
		for _, c := range w.Changes {
			e.Changes = append(e.Changes, toChange(c))
		}
		events = append(events, e)
	}
	return events
}

func FromEvents(es []remote.InvoiceEvent) []InvoiceEvent {
	events := make([]InvoiceEvent, 0, len(es))
	for _, e := range es {
		w := InvoiceEvent{ID: e.ID, CreatedAt: e.CreatedAt, Changes: []InvoiceChange{}}
		for _, c := range e.Changes {
			w.Changes = append(w.Changes, fromChange(c))
		}
		events = append(events, w)
	}
	return events
}
