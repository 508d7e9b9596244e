package environment

import (
	"strings"
	"testing"
)

func TestRenderShim_TCPVariant_SendsRawDepthNotPreIncremented(t *testing.T) {
	temp := 0.3
	script := renderShim("/tmp/state.json", "sess-1", 2, &temp, tcpTransport("127.0.0.1:9090"))

	if !strings.Contains(script, `"depth": _RLM_DEPTH,`) {
		t.Fatal("expected llm_query to send the raw parent depth, not a pre-incremented one")
	}
	if strings.Contains(script, "_RLM_DEPTH + 1,") {
		t.Fatal("depth increment must be computed by the handler's dispatcher, not baked into the sent payload")
	}
	if !strings.Contains(script, "_RLM_DEPTH = 2") {
		t.Fatalf("expected the configured depth constant, got:\n%s", script)
	}
	if !strings.Contains(script, "_RLM_DEFAULT_TEMPERATURE = 0.3") {
		t.Fatalf("expected the default temperature constant to be rendered, got:\n%s", script)
	}
	if !strings.Contains(script, `"temperature": temperature,`) {
		t.Fatal("expected temperature to be passed through raw, with fallback left to the handler")
	}
	if !strings.Contains(script, "127.0.0.1") || !strings.Contains(script, "9090") {
		t.Fatal("expected the tcp transport to be rendered with the handler host/port")
	}
}

func TestRenderShim_NilDefaultTemperatureRendersNone(t *testing.T) {
	script := renderShim("/tmp/state.json", "sess-1", 0, nil, tcpTransport("127.0.0.1:9090"))
	if !strings.Contains(script, "_RLM_DEFAULT_TEMPERATURE = None") {
		t.Fatalf("expected a nil default temperature to render as None, got:\n%s", script)
	}
}

func TestRenderShim_RecordsSubCallsForBothQueryVariants(t *testing.T) {
	script := renderShim("/tmp/state.json", "sess-1", 0, nil, httpTransport("http://127.0.0.1:8089"))

	if !strings.Contains(script, "_rlm_sub_calls = []") {
		t.Fatal("expected a _rlm_sub_calls accumulator")
	}
	if got := strings.Count(script, "_rlm_sub_calls.append("); got < 2 {
		t.Fatalf("expected llm_query and llm_query_batched to each record sub-calls, got %d append sites", got)
	}
}

func TestRenderShim_HTTPVariant_PostsToEnqueueEndpoint(t *testing.T) {
	script := renderShim("/tmp/state.json", "sess-1", 0, nil, httpTransport("http://127.0.0.1:8089/"))
	if !strings.Contains(script, `"http://127.0.0.1:8089/enqueue"`) {
		t.Fatalf("expected the enqueue URL to be rendered, got:\n%s", script)
	}
}

func TestTCPHostAndPort_ParsesAddrOrFallsBack(t *testing.T) {
	if got := tcpHost("10.0.0.5:1234"); got != "10.0.0.5" {
		t.Fatalf("unexpected host: %q", got)
	}
	if got := tcpPort("10.0.0.5:1234"); got != 1234 {
		t.Fatalf("unexpected port: %d", got)
	}
	if got := tcpHost("not-an-addr"); got != "127.0.0.1" {
		t.Fatalf("expected fallback host, got %q", got)
	}
	if got := tcpPort("not-an-addr"); got != 9090 {
		t.Fatalf("expected fallback port, got %d", got)
	}
}
