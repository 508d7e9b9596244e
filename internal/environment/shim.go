package environment

import (
	"fmt"
	"strings"
)

// pythonShim is the preamble injected ahead of every executed code
// block. It installs the three sandbox capabilities named in §4.6 and
// §6 — llm_query, llm_query_batched, FINAL_VAR — plus `context`, and
// reloads/persists the namespace across calls via a well-known state
// file, matching the "opaque session-scoped blob" design note in §9.
//
// Depth increment and temperature fallback are NOT computed here: the
// shim sends its own depth and the session's default temperature
// as-is, and the LM Handler's dispatcher (C8) is the one authority
// that derives the executing depth and resolves the fallback, per
// §4.8 — the shim only ever records what the handler echoes back.
//
// The two variants differ only in how _rlm_call reaches the
// dispatcher: a raw framed TCP socket (non-isolated) or an HTTP POST
// to the broker's /enqueue (isolated). Everything else — namespace
// persistence, FINAL_VAR, batching — is shared.
const pythonShimTemplate = `
import json, os, socket, struct, urllib.request

_RLM_STATE_PATH = %q
_RLM_SESSION_ID = %q
_RLM_DEPTH = %d
_RLM_DEFAULT_TEMPERATURE = %s
_rlm_sub_calls = []

def _rlm_load_namespace():
    if os.path.exists(_RLM_STATE_PATH):
        with open(_RLM_STATE_PATH, "r") as f:
            return json.load(f)
    return {}

def _rlm_save_namespace(ns):
    serializable = {}
    for k, v in ns.items():
        if k.startswith("_rlm") or (k in _RLM_RESERVED and k != "context"):
            continue
        try:
            json.dumps(v)
            serializable[k] = v
        except TypeError:
            pass
    with open(_RLM_STATE_PATH, "w") as f:
        json.dump(serializable, f)

%s

def llm_query(prompt, model=None, temperature=None):
    request_id = _rlm_new_request_id()
    payload = {
        "messages": [{"role": "user", "content": prompt}],
        "model": model or "",
        "temperature": temperature,
        "default_temperature": _RLM_DEFAULT_TEMPERATURE,
        "depth": _RLM_DEPTH,
        "session_id": _RLM_SESSION_ID,
        "request_id": request_id,
    }
    resp = _rlm_call(payload)
    _rlm_sub_calls.append({
        "request_id": resp.get("request_id", request_id),
        "depth": resp.get("depth", _RLM_DEPTH + 1),
        "usage": resp.get("usage", {}),
        "error": resp.get("error", ""),
    })
    if resp.get("error"):
        return "ERROR: " + resp["error"]
    return resp.get("content", "")

def llm_query_batched(prompts, model=None, temperature=None, max_concurrency=8):
    payload = {
        "prompts": list(prompts),
        "max_concurrency": max_concurrency,
        "model": model or "",
        "temperature": temperature,
        "default_temperature": _RLM_DEFAULT_TEMPERATURE,
        "depth": _RLM_DEPTH,
        "session_id": _RLM_SESSION_ID,
        "request_id": _rlm_new_request_id(),
    }
    resp = _rlm_call(payload)
    results = []
    for item in resp.get("responses", []):
        _rlm_sub_calls.append({
            "request_id": item.get("request_id", ""),
            "depth": item.get("depth", _RLM_DEPTH + 1),
            "usage": item.get("usage", {}),
            "error": item.get("error", ""),
        })
        if item.get("error"):
            results.append("ERROR: " + item["error"])
        else:
            results.append(item.get("content", ""))
    return results

_rlm_final = {"set": False, "name": None, "value": None}

def FINAL_VAR(name):
    if _rlm_final["set"]:
        return
    _rlm_final["set"] = True
    _rlm_final["name"] = name
    _rlm_final["value"] = globals().get(name)

_RLM_RESERVED = {"llm_query", "llm_query_batched", "FINAL_VAR", "context"}

_rlm_ns = _rlm_load_namespace()
globals().update(_rlm_ns)
context = _rlm_ns.get("context")
`

// renderShim fills in the per-session constants and the transport
// block (tcp dial or http POST) appropriate to the environment
// variant.
func renderShim(statePath, sessionID string, depth int, defaultTemperature *float64, transport string) string {
	temp := "None"
	if defaultTemperature != nil {
		temp = fmt.Sprintf("%v", *defaultTemperature)
	}
	return fmt.Sprintf(pythonShimTemplate, statePath, sessionID, depth, temp, transport)
}

// tcpTransport implements _rlm_call via a raw framed socket to the LM
// Handler — the non-isolated wire format in §6.
func tcpTransport(handlerAddr string) string {
	return fmt.Sprintf(`
import uuid as _rlm_uuid

def _rlm_new_request_id():
    return str(_rlm_uuid.uuid4())

def _rlm_call(payload):
    s = socket.create_connection((%q, %d), timeout=125)
    try:
        body = json.dumps(payload).encode("utf-8")
        s.sendall(struct.pack(">I", len(body)) + body)
        header = _rlm_recv_exact(s, 4)
        size = struct.unpack(">I", header)[0]
        raw = _rlm_recv_exact(s, size)
        return json.loads(raw.decode("utf-8"))
    finally:
        s.close()

def _rlm_recv_exact(s, n):
    buf = b""
    while len(buf) < n:
        chunk = s.recv(n - len(buf))
        if not chunk:
            raise ConnectionError("connection closed before full frame was read")
        buf += chunk
    return buf
`, tcpHost(handlerAddr), tcpPort(handlerAddr))
}

// httpTransport implements _rlm_call via the local broker's /enqueue
// — the isolated wire format in §4.4.
func httpTransport(brokerURL string) string {
	return fmt.Sprintf(`
import uuid as _rlm_uuid

def _rlm_new_request_id():
    return str(_rlm_uuid.uuid4())

def _rlm_call(payload):
    req = urllib.request.Request(
        %q,
        data=json.dumps(payload).encode("utf-8"),
        headers={"Content-Type": "application/json"},
        method="POST",
    )
    with urllib.request.urlopen(req, timeout=610) as resp:
        return json.loads(resp.read().decode("utf-8"))
`, strings.TrimRight(brokerURL, "/")+"/enqueue")
}

func tcpHost(addr string) string {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) == 2 && parts[0] != "" {
		return parts[0]
	}
	return "127.0.0.1"
}

func tcpPort(addr string) int {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		return 9090
	}
	var port int
	_, _ = fmt.Sscanf(parts[1], "%d", &port)
	if port == 0 {
		return 9090
	}
	return port
}
