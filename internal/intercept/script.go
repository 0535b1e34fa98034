package intercept

import (
	"encoding/json"
	"fmt"

	"github.com/Cardane/chatlove/internal/bus"
)

// shimTemplate is the observation shim that runs inside the host page's own
// execution context. Shims installed from outside the page cannot see calls
// made through page-internal references, so the wrapping has to happen here
// and relay observations out through the publish binding.
//
// Hard rules encoded below: the wrapped call always proceeds with its
// original arguments, return value and error behavior; relay/authority
// traffic is passed through unobserved; nothing here may throw into the
// page — the shim failing silently is strictly better than breaking the
// host application's own networking.
const shimTemplate = `(() => {
  if (window.__chatloveHooked) return;
  window.__chatloveHooked = true;

  const HOSTS = %s;
  const SKIP = %s;
  const CAP = %d;

  const publish = (type, data) => {
    try { window.%s(JSON.stringify({ type: type, data: data })) } catch (e) {}
  };

  const watched = (u) => {
    try {
      const h = new URL(u, location.href).hostname;
      if (SKIP.some((s) => h === s || h.endsWith('.' + s))) return false;
      return HOSTS.some((d) => h === d || h.endsWith('.' + d));
    } catch (e) { return false; }
  };

  const clip = (b) => (typeof b === 'string' ? b.slice(0, CAP) : '');

  const origFetch = window.fetch;
  window.fetch = function (...args) {
    let u = '';
    try {
      const input = args[0];
      u = typeof input === 'string' ? input : (input && input.url) || String(input);
    } catch (e) {}
    if (!watched(u)) return origFetch.apply(this, args);

    try {
      const opts = args[1] || {};
      publish('request', { url: u, method: opts.method || 'GET', body: clip(opts.body), ts: Date.now() });
    } catch (e) {}

    const p = origFetch.apply(this, args);
    p.then((resp) => {
      try {
        resp.clone().text().then((text) => {
          publish('response', { url: u, status: resp.status, body: clip(text), ts: Date.now() });
        }).catch(() => {});
      } catch (e) {}
    }).catch(() => {});
    return p;
  };

  const origOpen = XMLHttpRequest.prototype.open;
  const origSend = XMLHttpRequest.prototype.send;
  XMLHttpRequest.prototype.open = function (method, url, ...rest) {
    try { this.__chatlove = { method: method, url: String(url) }; } catch (e) {}
    return origOpen.call(this, method, url, ...rest);
  };
  XMLHttpRequest.prototype.send = function (body) {
    try {
      const meta = this.__chatlove;
      if (meta && watched(meta.url)) {
        publish('request', { url: meta.url, method: meta.method, body: clip(body), ts: Date.now() });
        this.addEventListener('readystatechange', () => {
          if (this.readyState !== 4) return;
          try {
            // responseText throws for non-text responseTypes.
            const text = this.responseType === '' || this.responseType === 'text' ? this.responseText : '';
            publish('response', { url: meta.url, status: this.status, body: clip(text), ts: Date.now() });
          } catch (e) {}
        });
      }
    } catch (e) {}
    return origSend.call(this, body);
  };

  const OrigES = window.EventSource;
  if (OrigES) {
    const WrappedES = function (url, cfg) {
      const es = new OrigES(url, cfg);
      try {
        if (watched(url)) {
          publish('sse_connect', { url: String(url), ts: Date.now() });
          es.addEventListener('message', (ev) => {
            publish('sse_message', { url: String(url), body: clip(ev.data), ts: Date.now() });
          });
        }
      } catch (e) {}
      return es;
    };
    WrappedES.prototype = OrigES.prototype;
    WrappedES.CONNECTING = OrigES.CONNECTING;
    WrappedES.OPEN = OrigES.OPEN;
    WrappedES.CLOSED = OrigES.CLOSED;
    window.EventSource = WrappedES;
  }
})();`

// BuildShim renders the page-world script for the given host allow-list and
// pass-through hosts (the daemon's own relay/authority endpoints).
func BuildShim(hostDomains, skipHosts []string, bodyCap int) string {
	hosts, _ := json.Marshal(hostDomains)
	skip, _ := json.Marshal(skipHosts)
	return fmt.Sprintf(shimTemplate, hosts, skip, bodyCap, bus.BindingName)
}
