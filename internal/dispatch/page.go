package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Page is the slice of host-tab behavior the dispatcher needs. The CDP
// implementation below drives the live tab; tests substitute a fake.
type Page interface {
	CurrentURL(ctx context.Context) (string, error)
	MirrorMessage(ctx context.Context, text string) error
}

// fillScript writes the message into the editor's contenteditable and
// fires the events the host app's framework listens for. Returns whether
// an editor was found at all.
const fillScript = `(() => {
	const ed = document.querySelector('[contenteditable="true"]');
	if (!ed) return false;
	ed.focus();
	ed.textContent = %s;
	ed.dispatchEvent(new Event('input', {bubbles: true}));
	ed.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()`

// clickSubmitScript clicks the last visible enabled submit button, which
// in the host app's editor is the send control.
const clickSubmitScript = `(() => {
	const btns = [...document.querySelectorAll('button[type="submit"]')]
		.filter(b => !b.disabled && b.offsetParent !== null);
	if (btns.length === 0) return false;
	btns[btns.length - 1].click();
	return true;
})()`

type cdpPage struct {
	tabCtx      context.Context
	settleDelay time.Duration
}

// NewCDPPage wraps a chromedp tab context as a Page.
func NewCDPPage(tabCtx context.Context, settleDelay time.Duration) Page {
	return &cdpPage{tabCtx: tabCtx, settleDelay: settleDelay}
}

func (p *cdpPage) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(p.tabCtx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *cdpPage) MirrorMessage(ctx context.Context, text string) error {
	quoted := jsString(text)

	var filled bool
	if err := chromedp.Run(p.tabCtx,
		chromedp.Evaluate(fmt.Sprintf(fillScript, quoted), &filled),
	); err != nil {
		return err
	}
	if !filled {
		return fmt.Errorf("no editable message field on page")
	}

	// Let the framework react to the synthetic input before submitting.
	select {
	case <-time.After(p.settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	var clicked bool
	if err := chromedp.Run(p.tabCtx,
		chromedp.Evaluate(clickSubmitScript, &clicked),
	); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no enabled submit button on page")
	}
	return nil
}
