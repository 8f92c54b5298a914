package e2e

import (
	"net/http"
	"testing"
)

// lastOperationRef returns the operation of the newest tool message.
func lastOperationRef(t *testing.T, ta *testApp) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodGet, projectPath("/messages"), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	messages, _ := parseJSON(t, resp)["messages"].([]interface{})
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i].(map[string]interface{})
		if ref, _ := msg["operationRef"].(string); ref != "" {
			return ref
		}
	}
	t.Fatal("no tool message with an operation reference")
	return ""
}

func runTurn(t *testing.T, ta *testApp, message string) {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, projectPath("/generate"), `{"message": "`+message+`"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	ta.runSessions(t)
}

func TestScenes_List(t *testing.T) {
	ta := setupApp(t)
	ta.seedScenes(t, defaultScenes()...)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, projectPath("/scenes"), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["totalDuration"] != float64(360) {
		t.Errorf("expected totalDuration 360, got %v", result["totalDuration"])
	}
	scenes, _ := result["scenes"].([]interface{})
	if len(scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(scenes))
	}
	second := scenes[1].(map[string]interface{})
	if second["id"] != "product" || second["start"] != float64(90) {
		t.Errorf("unexpected second scene: %v", second)
	}
}

func TestScenes_EmptyProject(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/projects/empty/scenes", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	scenes, ok := parseJSON(t, resp)["scenes"].([]interface{})
	if !ok || len(scenes) != 0 {
		t.Errorf("expected an empty scene list, got %v", scenes)
	}
}

func TestRestore_Success(t *testing.T) {
	ta := setupApp(t)
	ta.seedScenes(t, defaultScenes()...)
	runTurn(t, ta, "delete scene 2")
	opID := lastOperationRef(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, projectPath("/operations/"+opID+"/restore"), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	scenes, _ := result["scenes"].([]interface{})
	if len(scenes) != 3 {
		t.Fatalf("expected 3 scenes after restore, got %d", len(scenes))
	}
	if scenes[1].(map[string]interface{})["id"] != "product" {
		t.Errorf("expected the restored scene back in position 2, got %v", scenes[1])
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, projectPath("/operations/"+opID+"/restore"), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
	assertErrorCode(t, resp, "CONFLICT")
}

func TestRestore_Unsupported(t *testing.T) {
	ta := setupApp(t)
	ta.seedScenes(t, defaultScenes()...)
	runTurn(t, ta, "set scene 1 duration to 2 seconds")
	opID := lastOperationRef(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, projectPath("/operations/"+opID+"/restore"), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnprocessableEntity)
	assertErrorCode(t, resp, "RESTORE_UNSUPPORTED")
}

func TestRestore_UnknownOperation(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, projectPath("/operations/missing/restore"), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
	assertErrorCode(t, resp, "NOT_FOUND")
}

func TestRestore_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, projectPath("/operations/x/restore"), "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}
