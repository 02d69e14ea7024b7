package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/auth"
	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/httpserver"
	"github.com/nimbusworks/envlift/internal/models"
	"github.com/nimbusworks/envlift/internal/objectstore"
	"github.com/nimbusworks/envlift/internal/promotion"
	"github.com/nimbusworks/envlift/internal/repo"
	"github.com/nimbusworks/envlift/internal/testdata"
	"github.com/nimbusworks/envlift/internal/vectorindex"
)

const debugToken = "local-debug"

type testStack struct {
	docs   map[environment.Environment]*repo.MemoryEnvRepository[*models.Document]
	store  *objectstore.MemoryStore
	server *httptest.Server
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	dev := repo.NewMemoryEnvRepository[*models.Document](repo.DocumentDescriptor(), environment.Dev, false)
	stage := repo.NewMemoryEnvRepository[*models.Document](repo.DocumentDescriptor(), environment.Stage, false).Share(dev.Items())
	prod := repo.NewMemoryEnvRepository[*models.Document](repo.DocumentDescriptor(), environment.Prod, true).Share(dev.Items())
	docs := map[environment.Environment]*repo.MemoryEnvRepository[*models.Document]{
		environment.Dev:   dev,
		environment.Stage: stage,
		environment.Prod:  prod,
	}
	docRepos := func(env environment.Environment) repo.EnvRepository[*models.Document] {
		return docs[env]
	}

	store := objectstore.NewMemoryStore()
	index := vectorindex.NewMemoryIndex()
	registry := promotion.NewRegistry()
	registry.Register(promotion.NewDocumentPromoter(docRepos, store, index))
	orch := promotion.NewOrchestrator(registry, promotion.NewMemoryLedgerStore(), nil, nil, 2)

	detector := testdata.NewDetector()
	verifier := auth.NewVerifier("", true, debugToken)
	srv := httpserver.New(verifier, orch, nil, nil, environment.Dev)
	srv.RegisterEntity(promotion.DocumentType, func(env environment.Environment) httpserver.EntityAdmin {
		return docs[env]
	}, func(ctx context.Context, env environment.Environment, batchSize int) (testdata.Report, error) {
		return testdata.ScanAndMark(ctx, detector, docs[env], batchSize)
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testStack{docs: docs, store: store, server: ts}
}

func (s *testStack) call(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Debug-Token", debugToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (s *testStack) seedApproved(t *testing.T, filename string) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{
		Filename:   filename,
		Title:      filename,
		SizeBytes:  512,
		StorageKey: "corpus/" + filename,
	}
	created, err := s.docs[environment.Dev].Create(ctx, doc, false)
	if err != nil {
		t.Fatalf("seed %s: %v", filename, err)
	}
	s.store.Put(environment.Dev, created.StorageKey, []byte(filename))
	if ok, err := s.docs[environment.Dev].ApproveForPromotion(ctx, created.ID); err != nil || !ok {
		t.Fatalf("approve %s: ok=%v err=%v", filename, ok, err)
	}
	return created
}

func TestAuthRequired(t *testing.T) {
	s := newTestStack(t)
	resp, err := http.Post(s.server.URL+"/lifecycle/promotions/preview", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestHealthIsOpen(t *testing.T) {
	s := newTestStack(t)
	resp, err := http.Get(s.server.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestPreviewExecuteRollbackOverHTTP(t *testing.T) {
	s := newTestStack(t)
	s.seedApproved(t, "alpha.pdf")
	s.seedApproved(t, "beta.pdf")
	s.seedApproved(t, "gamma.pdf")
	user := uuid.New()

	resp, body := s.call(t, http.MethodPost, "/lifecycle/promotions/preview", map[string]interface{}{
		"type":              "document",
		"sourceEnvironment": "dev",
		"targetEnvironment": "stage",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d: %s", resp.StatusCode, body)
	}
	var pv struct {
		TotalCount int  `json:"totalCount"`
		IsValid    bool `json:"isValid"`
	}
	if err := json.Unmarshal(body, &pv); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if pv.TotalCount != 3 || !pv.IsValid {
		t.Fatalf("preview = %+v, want 3 valid items", pv)
	}

	resp, body = s.call(t, http.MethodPost, "/lifecycle/promotions/execute", map[string]interface{}{
		"type":              "document",
		"sourceEnvironment": "dev",
		"targetEnvironment": "stage",
		"promotedByUserId":  user.String(),
		"reason":            "release",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d: %s", resp.StatusCode, body)
	}
	var res struct {
		PromotionID  uuid.UUID         `json:"promotionId"`
		SuccessCount int               `json:"successCount"`
		ErrorCount   int               `json:"errorCount"`
		Errors       map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.SuccessCount != 3 || res.ErrorCount != 0 {
		t.Fatalf("counts = %d/%d (%v), want 3/0", res.SuccessCount, res.ErrorCount, res.Errors)
	}

	staged, err := s.docs[environment.Stage].GetAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list stage: %v", err)
	}
	if len(staged) != 3 {
		t.Fatalf("stage has %d documents, want 3", len(staged))
	}

	resp, body = s.call(t, http.MethodGet, "/lifecycle/promotions/"+res.PromotionID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get promotion status = %d: %s", resp.StatusCode, body)
	}

	resp, body = s.call(t, http.MethodPost, "/lifecycle/promotions/"+res.PromotionID.String()+"/rollback", map[string]interface{}{
		"rolledBackByUserId": user.String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rollback status = %d: %s", resp.StatusCode, body)
	}
	staged, err = s.docs[environment.Stage].GetAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list stage after rollback: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("stage has %d documents after rollback, want 0", len(staged))
	}

	// A second rollback of the same run must be rejected.
	resp, body = s.call(t, http.MethodPost, "/lifecycle/promotions/"+res.PromotionID.String()+"/rollback", map[string]interface{}{
		"rolledBackByUserId": user.String(),
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second rollback status = %d: %s", resp.StatusCode, body)
	}
}

func TestExecuteUnknownTypeRejected(t *testing.T) {
	s := newTestStack(t)
	resp, body := s.call(t, http.MethodPost, "/lifecycle/promotions/execute", map[string]interface{}{
		"type":              "nonesuch",
		"sourceEnvironment": "dev",
		"targetEnvironment": "stage",
		"promotedByUserId":  uuid.New().String(),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestApproveAndMarkTestOverHTTP(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	created, err := s.docs[environment.Dev].Create(ctx, &models.Document{Filename: "quarterly.pdf"}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, body := s.call(t, http.MethodPost, fmt.Sprintf("/lifecycle/items/document/%s/approve", created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d: %s", resp.StatusCode, body)
	}

	resp, body = s.call(t, http.MethodPost, fmt.Sprintf("/lifecycle/items/document/%s/mark-test", created.ID), map[string]interface{}{
		"reason": "seeded fixture",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark-test status = %d: %s", resp.StatusCode, body)
	}

	// Once flagged as test data the item cannot be re-approved.
	resp, body = s.call(t, http.MethodPost, fmt.Sprintf("/lifecycle/items/document/%s/approve", created.ID), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-approve status = %d: %s", resp.StatusCode, body)
	}

	// Marking an already-flagged item is idempotent, not a missing item.
	resp, body = s.call(t, http.MethodPost, fmt.Sprintf("/lifecycle/items/document/%s/mark-test", created.ID), map[string]interface{}{
		"reason": "seeded fixture again",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-mark status = %d, want 200: %s", resp.StatusCode, body)
	}
	var remark struct {
		AlreadyMarked bool `json:"alreadyMarked"`
	}
	if err := json.Unmarshal(body, &remark); err != nil {
		t.Fatalf("decode re-mark: %v", err)
	}
	if !remark.AlreadyMarked {
		t.Fatalf("re-mark response does not report alreadyMarked: %s", body)
	}

	// A genuinely unknown item still comes back as 404.
	resp, body = s.call(t, http.MethodPost, fmt.Sprintf("/lifecycle/items/document/%s/mark-test", uuid.New()), map[string]interface{}{
		"reason": "seeded fixture",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown-item mark-test status = %d, want 404: %s", resp.StatusCode, body)
	}
}

func TestScanEndpointFlagsPlaceholderContent(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	if _, err := s.docs[environment.Dev].Create(ctx, &models.Document{
		Filename: "onboarding.pdf",
		Title:    "John Doe sample record",
	}, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.docs[environment.Dev].Create(ctx, &models.Document{
		Filename: "contract.pdf",
		Title:    "Ali Hosseini contract",
	}, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, body := s.call(t, http.MethodPost, "/lifecycle/test-data/scan", map[string]interface{}{
		"type":        "document",
		"environment": "dev",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan status = %d: %s", resp.StatusCode, body)
	}
	var report testdata.Report
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Marked != 1 {
		t.Fatalf("marked = %d, want 1 (%+v)", report.Marked, report)
	}
}

func TestCountByEnvironmentOverHTTP(t *testing.T) {
	s := newTestStack(t)
	s.seedApproved(t, "alpha.pdf")
	s.seedApproved(t, "beta.pdf")

	resp, body := s.call(t, http.MethodGet, "/lifecycle/environments/dev/count?type=document", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("count status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if out.Count != 2 {
		t.Fatalf("count = %d, want 2", out.Count)
	}
}
