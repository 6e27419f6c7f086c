package server

import "net/http"

// bridgeJS keeps the mounted tree in the page in sync with the server.
// Snapshots replace the tree; patch frames replace the changed subtrees by
// child-index path and are skipped when not newer than the page. Events
// are delegated at the mount point and reported with the path of their
// target. A subtree holding the focused element is morphed in place
// instead of replaced so typing is not interrupted.
const bridgeJS = `(function () {
  "use strict";
  var mount = document.getElementById("tally-mount");
  if (!mount) { return; }
  var seq = Number(mount.getAttribute("data-seq") || 0);
  var socket = null;

  function nodeAt(path) {
    var node = mount;
    for (var i = 0; i < path.length && node; i++) {
      node = node.childNodes[path[i]];
    }
    return node || null;
  }

  function pathOf(node) {
    var path = [];
    while (node && node !== mount) {
      var parent = node.parentNode;
      if (!parent) { return null; }
      path.unshift(Array.prototype.indexOf.call(parent.childNodes, node));
      node = parent;
    }
    return node === mount ? path : null;
  }

  function parse(html) {
    var t = document.createElement("template");
    t.innerHTML = html;
    return t.content.firstChild;
  }

  function morph(from, to) {
    if (from.nodeType !== to.nodeType || from.nodeName !== to.nodeName) {
      from.replaceWith(to);
      return;
    }
    if (from.nodeType === Node.TEXT_NODE) {
      if (from.data !== to.data) { from.data = to.data; }
      return;
    }
    Array.prototype.slice.call(from.attributes).forEach(function (a) {
      if (!to.hasAttribute(a.name)) { from.removeAttribute(a.name); }
    });
    Array.prototype.forEach.call(to.attributes, function (a) {
      if (from.getAttribute(a.name) !== a.value) { from.setAttribute(a.name, a.value); }
    });
    if ((from.tagName === "INPUT" || from.tagName === "TEXTAREA") && from !== document.activeElement) {
      from.value = to.getAttribute("value") || "";
    }
    var next = Array.prototype.slice.call(to.childNodes);
    while (from.childNodes.length > next.length) { from.removeChild(from.lastChild); }
    next.forEach(function (child, i) {
      if (i < from.childNodes.length) { morph(from.childNodes[i], child); } else { from.appendChild(child); }
    });
  }

  function replace(target, html) {
    var node = parse(html);
    if (!node) { return; }
    if (target.contains(document.activeElement)) { morph(target, node); } else { target.replaceWith(node); }
  }

  function apply(frame) {
    switch (frame.type) {
    case "snapshot":
      if (mount.firstChild && mount.childNodes.length === 1) {
        replace(mount.firstChild, frame.html);
      } else {
        mount.innerHTML = frame.html;
      }
      seq = frame.seq;
      break;
    case "patch":
      if (frame.seq <= seq) { return; }
      (frame.changes || []).forEach(function (c) {
        if (!c.path.length) { return; }
        var target = nodeAt(c.path);
        if (!target) { return; }
        if (c.kind === "text") {
          if (target.nodeType === Node.TEXT_NODE) { target.data = c.text || ""; }
          else { target.replaceWith(document.createTextNode(c.text || "")); }
        } else {
          replace(target, c.html);
        }
      });
      seq = frame.seq;
      break;
    case "error":
      console.warn("tally:", frame.error);
      break;
    }
  }

  function send(event) {
    if (!socket || socket.readyState !== WebSocket.OPEN) { return; }
    var target = event.target;
    var path = pathOf(target);
    if (!path) { return; }
    var payload = {};
    if (typeof target.value === "string") { payload.value = target.value; }
    if (target.type === "checkbox" || target.type === "radio") { payload.checked = target.checked; }
    socket.send(JSON.stringify({ path: path, type: event.type, payload: payload }));
  }

  mount.addEventListener("click", send);
  mount.addEventListener("input", send);
  mount.addEventListener("submit", function (event) {
    event.preventDefault();
    send(event);
  });

  function connect() {
    var scheme = location.protocol === "https:" ? "wss:" : "ws:";
    socket = new WebSocket(scheme + "//" + location.host + "/ws");
    socket.onmessage = function (msg) {
      try {
        apply(JSON.parse(msg.data));
      } catch (err) {
        console.error("tally: bad frame", err);
      }
    };
    socket.onclose = function () {
      socket = null;
      setTimeout(connect, 1000);
    };
  }
  connect();
})();
`

func handleBridge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(bridgeJS))
}
