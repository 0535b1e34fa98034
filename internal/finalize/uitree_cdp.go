package finalize

import (
	"context"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// Selectors that mark an unsaved edit in the host app's editor chrome.
const pendingProbeScript = `(() => {
	const sel = '[data-testid*="pending"], [class*="pending"], [class*="unsaved"], .text-orange-500, .text-yellow-500';
	return [...document.querySelectorAll(sel)].filter(el => el.offsetParent !== null).length;
})()`

const clickSaveScript = `(() => {
	const btns = [...document.querySelectorAll('button')]
		.filter(b => !b.disabled && b.offsetParent !== null)
		.filter(b => /\b(save|confirm)\b/i.test(b.textContent || ''));
	if (btns.length === 0) return false;
	btns[0].click();
	return true;
})()`

const clickLastSubmitScript = `(() => {
	const btns = [...document.querySelectorAll('button[type="submit"]')]
		.filter(b => !b.disabled && b.offsetParent !== null);
	if (btns.length === 0) return false;
	btns[btns.length - 1].click();
	return true;
})()`

type cdpUITree struct {
	tabCtx context.Context
}

// NewCDPUITree wraps a chromedp tab context as a UITree.
func NewCDPUITree(tabCtx context.Context) UITree {
	return &cdpUITree{tabCtx: tabCtx}
}

func (u *cdpUITree) PendingMarkers(ctx context.Context) (int, error) {
	var n int
	err := chromedp.Run(u.tabCtx, chromedp.Evaluate(pendingProbeScript, &n))
	return n, err
}

func (u *cdpUITree) ClickSave(ctx context.Context) (bool, error) {
	var clicked bool
	err := chromedp.Run(u.tabCtx, chromedp.Evaluate(clickSaveScript, &clicked))
	return clicked, err
}

// SaveShortcut emits a real Ctrl+S key chord through the input domain so
// the app's document-level handler sees a trusted event.
func (u *cdpUITree) SaveShortcut(ctx context.Context) error {
	const ctrl = input.ModifierCtrl
	down := input.DispatchKeyEvent(input.KeyDown).
		WithModifiers(ctrl).
		WithKey("s").
		WithCode("KeyS").
		WithWindowsVirtualKeyCode(83)
	up := input.DispatchKeyEvent(input.KeyUp).
		WithModifiers(ctrl).
		WithKey("s").
		WithCode("KeyS").
		WithWindowsVirtualKeyCode(83)
	return chromedp.Run(u.tabCtx,
		chromedp.ActionFunc(func(c context.Context) error {
			if err := down.Do(c); err != nil {
				return err
			}
			return up.Do(c)
		}),
	)
}

func (u *cdpUITree) ClickLastSubmit(ctx context.Context) (bool, error) {
	var clicked bool
	err := chromedp.Run(u.tabCtx, chromedp.Evaluate(clickLastSubmitScript, &clicked))
	return clicked, err
}
