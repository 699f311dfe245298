package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	annotationdomain "github.com/smallbiznis/sentinel/internal/annotation/domain"
	annotationrepository "github.com/smallbiznis/sentinel/internal/annotation/repository"
	annotationservice "github.com/smallbiznis/sentinel/internal/annotation/service"
	auditdomain "github.com/smallbiznis/sentinel/internal/audit/domain"
	auditrepository "github.com/smallbiznis/sentinel/internal/audit/repository"
	auditservice "github.com/smallbiznis/sentinel/internal/audit/service"
	clientdomain "github.com/smallbiznis/sentinel/internal/client/domain"
	clientrepository "github.com/smallbiznis/sentinel/internal/client/repository"
	clientservice "github.com/smallbiznis/sentinel/internal/client/service"
	"github.com/smallbiznis/sentinel/internal/clock"
	"github.com/smallbiznis/sentinel/internal/config"
	modeloutputdomain "github.com/smallbiznis/sentinel/internal/modeloutput/domain"
	modeloutputrepository "github.com/smallbiznis/sentinel/internal/modeloutput/repository"
	modeloutputservice "github.com/smallbiznis/sentinel/internal/modeloutput/service"
	referencedomain "github.com/smallbiznis/sentinel/internal/reference/domain"
	referencerepository "github.com/smallbiznis/sentinel/internal/reference/repository"
	referenceservice "github.com/smallbiznis/sentinel/internal/reference/service"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	rescorerepository "github.com/smallbiznis/sentinel/internal/rescore/repository"
	rescoreservice "github.com/smallbiznis/sentinel/internal/rescore/service"
	riskeventdomain "github.com/smallbiznis/sentinel/internal/riskevent/domain"
	riskeventrepository "github.com/smallbiznis/sentinel/internal/riskevent/repository"
	riskeventservice "github.com/smallbiznis/sentinel/internal/riskevent/service"
	"github.com/smallbiznis/sentinel/internal/scoring"
	transactiondomain "github.com/smallbiznis/sentinel/internal/transaction/domain"
	transactionrepository "github.com/smallbiznis/sentinel/internal/transaction/repository"
	transactionservice "github.com/smallbiznis/sentinel/internal/transaction/service"
	"github.com/smallbiznis/sentinel/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type serverEnv struct {
	router *gin.Engine
	db     *gorm.DB
	node   *snowflake.Node
}

func newTestServer(t *testing.T) *serverEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	// One connection keeps concurrent batch writers serialized on sqlite.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&clientdomain.Client{},
		&transactiondomain.Transaction{},
		&referencedomain.CountryRiskScore{},
		&riskeventdomain.RiskEvent{},
		&rescoredomain.RescoreSignal{},
		&auditdomain.AuditLog{},
		&modeloutputdomain.ModelOutput{},
		&annotationdomain.Annotation{},
	))
	tables := []string{
		"clients", "transactions", "country_risk_scores", "risk_events",
		"rescore_signals", "audit_logs", "model_outputs", "annotations",
	}
	for _, table := range tables {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()

	cfg := config.Config{
		AppName:     "sentinel",
		AppVersion:  "test",
		Environment: "test",
		Scoring:     config.ScoringConfig{BatchWorkers: 2},
	}
	holder := config.NewStaticEngineConfigHolder(config.DefaultEngineConfig())
	windows := window.NewAggregator(window.Params{
		Loader: window.NewGormLoader(db),
		Holder: holder,
		Log:    logger,
	})
	pipeline := window.NewKeyedMutex()

	auditSvc := auditservice.New(auditservice.Params{
		DB: db, Log: logger, GenID: node, Repo: auditrepository.Provide(),
	})
	referenceSvc := referenceservice.New(referenceservice.Params{
		DB: db, Log: logger, GenID: node, Repo: referencerepository.Provide(),
		Clock: clock.NewSystemClock(),
	})
	modelOutputSvc := modeloutputservice.New(modeloutputservice.Params{
		DB: db, Log: logger, GenID: node, Repo: modeloutputrepository.Provide(),
	})
	annotationSvc := annotationservice.New(annotationservice.Params{
		DB: db, Log: logger, GenID: node, Repo: annotationrepository.Provide(),
	})
	eventSvc := riskeventservice.New(riskeventservice.Params{
		DB: db, Log: logger, GenID: node, Repo: riskeventrepository.Provide(),
	})
	signalSvc := rescoreservice.New(rescoreservice.Params{
		DB: db, Log: logger, GenID: node, Repo: rescorerepository.Provide(),
	})
	clientSvc := clientservice.New(clientservice.Params{
		DB:         db,
		Log:        logger,
		GenID:      node,
		Repo:       clientrepository.Provide(),
		SignalRepo: rescorerepository.Provide(),
		Audit:      auditSvc,
	})
	transactionSvc := transactionservice.New(transactionservice.Params{
		DB:         db,
		Log:        logger,
		GenID:      node,
		Repo:       transactionrepository.Provide(),
		ClientRepo: clientrepository.Provide(),
		SignalRepo: rescorerepository.Provide(),
		Audit:      auditSvc,
		Windows:    windows,
		Pipeline:   pipeline,
		Holder:     holder,
	})
	scoringSvc := scoring.New(scoring.Params{
		DB:           db,
		Log:          logger,
		Config:       cfg,
		Holder:       holder,
		Transactions: transactionSvc,
		TxnRepo:      transactionrepository.Provide(),
		Clients:      clientrepository.Provide(),
		Reference:    referenceSvc,
		ModelOutputs: modelOutputSvc,
		Annotations:  annotationSvc,
		Events:       eventSvc,
		Signals:      signalSvc,
		SignalRepo:   rescorerepository.Provide(),
		Windows:      windows,
		Pipeline:     pipeline,
		Audit:        auditSvc,
		Clock:        clock.NewSystemClock(),
	})

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:         router,
		cfg:            cfg,
		db:             db,
		genID:          node,
		holder:         holder,
		scoringSvc:     scoringSvc,
		transactionSvc: transactionSvc,
		clientSvc:      clientSvc,
		referenceSvc:   referenceSvc,
		modelOutputSvc: modelOutputSvc,
		annotationSvc:  annotationSvc,
		riskEventSvc:   eventSvc,
		signalSvc:      signalSvc,
		auditSvc:       auditSvc,
	}
	srv.registerAPIRoutes()

	return &serverEnv{router: router, db: db, node: node}
}

func (e *serverEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *serverEnv) doRaw(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Data)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func (e *serverEnv) seedClient(t *testing.T, externalID, country string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/clients", clientdomain.UpsertClientRequest{
		ExternalID:  externalID,
		CountryCode: country,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (e *serverEnv) seedCountry(t *testing.T, code string, weight float64) {
	t.Helper()
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := e.do(t, http.MethodPut, "/v1/countries/"+code+"/risk", putCountryRiskRequest{
		RiskWeight:    weight,
		EffectiveFrom: &from,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

var apiBase = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func ingestBody(externalID, clientID string, amount float64, at time.Time) transactiondomain.IngestRequest {
	return transactiondomain.IngestRequest{
		ExternalID: externalID,
		ClientID:   clientID,
		Amount:     amount,
		Currency:   "USD",
		OccurredAt: at.Format(time.RFC3339),
	}
}

func TestSubmitTransactionReturnsScoredEvent(t *testing.T) {
	env := newTestServer(t)
	env.seedClient(t, "client-a", "NG")
	env.seedCountry(t, "NG", 0.8)

	rec := env.do(t, http.MethodPost, "/v1/transactions", ingestBody("txn-1", "client-a", 15000, apiBase))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result scoring.SubmitResult
	decodeData(t, rec, &result)

	require.NotNil(t, result.Event)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 50.0, result.Event.Score)
	assert.Equal(t, "high", result.Event.Severity)
	assert.Equal(t, []string{"large_amount", "high_risk_country"}, []string(result.Event.Reasons))
	assert.Len(t, result.Event.EventKey, 64)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, 1, result.Transaction.Version)
}

func TestSubmitTransactionUnknownClientRejected(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/v1/transactions", ingestBody("txn-1", "ghost", 100, apiBase))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "client_id", payload.Errors[0].Field)
	assert.Equal(t, "unknown client", payload.Errors[0].Message)
}

func TestSubmitTransactionMalformedBody(t *testing.T) {
	env := newTestServer(t)

	rec := env.doRaw(t, http.MethodPost, "/v1/transactions", `{"external_id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_request", payload.Errors[0].Code)
}

func TestResendBehaviour(t *testing.T) {
	env := newTestServer(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)

	first := env.do(t, http.MethodPost, "/v1/transactions", ingestBody("txn-1", "client-a", 100, apiBase))
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	// Identical resend is acknowledged with the already-current event.
	resend := env.do(t, http.MethodPost, "/v1/transactions", ingestBody("txn-1", "client-a", 100, apiBase))
	require.Equal(t, http.StatusOK, resend.Code, resend.Body.String())
	var result scoring.SubmitResult
	decodeData(t, resend, &result)
	assert.True(t, result.Duplicate)

	// Same ID with different content is a conflict, not a correction.
	conflict := env.do(t, http.MethodPost, "/v1/transactions", ingestBody("txn-1", "client-a", 250, apiBase))
	require.Equal(t, http.StatusConflict, conflict.Code, conflict.Body.String())
	payload := decodeError(t, conflict)
	assert.Equal(t, "conflict", payload.Type)
	assert.Equal(t, "conflicting resend", payload.Message)
}

func TestSubmitBatchReportsPerRecordStatus(t *testing.T) {
	env := newTestServer(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)

	bad := ingestBody("txn-bad", "client-a", 10, apiBase)
	bad.Currency = "usd$"
	batch := []transactiondomain.IngestRequest{
		ingestBody("txn-1", "client-a", 10, apiBase),
		bad,
		ingestBody("txn-2", "client-a", 20, apiBase.Add(time.Minute)),
	}

	rec := env.do(t, http.MethodPost, "/v1/transactions/batch", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []scoring.BatchItemResult
	decodeData(t, rec, &results)
	require.Len(t, results, 3)

	assert.Equal(t, scoring.BatchAccepted, results[0].Status)
	require.NotNil(t, results[0].Event)
	assert.Equal(t, scoring.BatchRejected, results[1].Status)
	assert.Contains(t, results[1].Error, "currency")
	assert.Nil(t, results[1].Event)
	assert.Equal(t, scoring.BatchAccepted, results[2].Status)
}

func TestSubmitBatchRejectsEmptyBody(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/v1/transactions/batch", []transactiondomain.IngestRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "records", payload.Errors[0].Field)
	assert.Equal(t, "required", payload.Errors[0].Code)
}

func TestGetTransactionAndVersions(t *testing.T) {
	env := newTestServer(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)

	submitted := env.do(t, http.MethodPost, "/v1/transactions", ingestBody("txn-1", "client-a", 100, apiBase))
	require.Equal(t, http.StatusOK, submitted.Code, submitted.Body.String())

	corrected := env.do(t, http.MethodPost, "/v1/transactions/txn-1/corrections", transactiondomain.CorrectRequest{
		Amount:     120,
		Currency:   "USD",
		OccurredAt: apiBase.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, corrected.Code, corrected.Body.String())

	current := env.do(t, http.MethodGet, "/v1/transactions/txn-1", nil)
	require.Equal(t, http.StatusOK, current.Code)
	var txn transactiondomain.Transaction
	decodeData(t, current, &txn)
	assert.Equal(t, 2, txn.Version)
	assert.Equal(t, 120.0, txn.Amount)

	versions := env.do(t, http.MethodGet, "/v1/transactions/txn-1/versions", nil)
	require.Equal(t, http.StatusOK, versions.Code)
	var history []transactiondomain.Transaction
	decodeData(t, versions, &history)
	require.Len(t, history, 2)

	missing := env.do(t, http.MethodGet, "/v1/transactions/ghost", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "not_found", decodeError(t, missing).Type)
}

func TestTransactionEventsCurrentAndHistory(t *testing.T) {
	env := newTestServer(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)

	submitted := env.do(t, http.MethodPost, "/v1/transactions", ingestBody("txn-1", "client-a", 100, apiBase))
	require.Equal(t, http.StatusOK, submitted.Code, submitted.Body.String())

	corrected := env.do(t, http.MethodPost, "/v1/transactions/txn-1/corrections", transactiondomain.CorrectRequest{
		Amount:     20000,
		Currency:   "USD",
		OccurredAt: apiBase.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, corrected.Code, corrected.Body.String())

	// A correction alone raises a signal; the verdict moves on explicit replay.
	rescored := env.do(t, http.MethodPost, "/v1/rescore", scoring.RescoreRequest{ClientID: "client-a"})
	require.Equal(t, http.StatusOK, rescored.Code, rescored.Body.String())
	var replay scoring.RescoreResult
	decodeData(t, rescored, &replay)
	assert.Equal(t, 1, replay.Scored)
	assert.Equal(t, 1, replay.Superseded)

	currentRec := env.do(t, http.MethodGet, "/v1/transactions/txn-1/events?current=true", nil)
	require.Equal(t, http.StatusOK, currentRec.Code)
	var current riskeventdomain.RiskEvent
	decodeData(t, currentRec, &current)
	assert.Equal(t, 2, current.Revision)
	assert.Contains(t, []string(current.Reasons), "large_amount")

	historyRec := env.do(t, http.MethodGet, "/v1/transactions/txn-1/events", nil)
	require.Equal(t, http.StatusOK, historyRec.Code)
	var events []riskeventdomain.RiskEvent
	decodeData(t, historyRec, &events)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Revision)
	assert.Equal(t, 2, events[1].Revision)
	require.NotNil(t, events[1].PriorEventKey)
	assert.Equal(t, events[0].EventKey, *events[1].PriorEventKey)
}

func TestRescoreUnknownClient(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/v1/rescore", scoring.RescoreRequest{ClientID: "ghost"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestClientEndpoints(t *testing.T) {
	env := newTestServer(t)

	created := env.do(t, http.MethodPost, "/v1/clients", clientdomain.UpsertClientRequest{
		ExternalID:  "client-a",
		CountryCode: "us",
	})
	require.Equal(t, http.StatusOK, created.Code, created.Body.String())
	var client clientdomain.Client
	decodeData(t, created, &client)
	assert.Equal(t, "US", client.CountryCode)

	fetched := env.do(t, http.MethodGet, "/v1/clients/client-a", nil)
	require.Equal(t, http.StatusOK, fetched.Code)

	missing := env.do(t, http.MethodGet, "/v1/clients/ghost", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)

	invalid := env.do(t, http.MethodPost, "/v1/clients", map[string]string{"country_code": "US"})
	require.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.Equal(t, "invalid_request", decodeError(t, invalid).Errors[0].Code)
}

func TestClientCorrectionRaisesSignal(t *testing.T) {
	env := newTestServer(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)

	submitted := env.do(t, http.MethodPost, "/v1/transactions", ingestBody("txn-1", "client-a", 100, apiBase))
	require.Equal(t, http.StatusOK, submitted.Code, submitted.Body.String())

	corrected := env.do(t, http.MethodPost, "/v1/clients/client-a/corrections", map[string]string{
		"country_code": "NG",
	})
	require.Equal(t, http.StatusOK, corrected.Code, corrected.Body.String())

	signals := env.do(t, http.MethodGet, "/v1/rescore-signals?client_id=client-a", nil)
	require.Equal(t, http.StatusOK, signals.Code)
	var pending []rescoredomain.RescoreSignal
	decodeData(t, signals, &pending)
	require.NotEmpty(t, pending)
	assert.Equal(t, rescoredomain.StatusPending, pending[0].Status)
}

func TestCountryRiskRoundTrip(t *testing.T) {
	env := newTestServer(t)

	put := env.do(t, http.MethodPut, "/v1/countries/fr/risk", putCountryRiskRequest{RiskWeight: 0.7})
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())
	var row referencedomain.CountryRiskScore
	decodeData(t, put, &row)
	assert.Equal(t, "FR", row.CountryCode)
	assert.Equal(t, 0.7, row.RiskWeight)

	get := env.do(t, http.MethodGet, "/v1/countries/FR/risk", nil)
	require.Equal(t, http.StatusOK, get.Code)
	decodeData(t, get, &row)
	assert.Equal(t, 0.7, row.RiskWeight)

	var audited int64
	require.NoError(t, env.db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", "country_risk.upsert").Count(&audited).Error)
	assert.Equal(t, int64(1), audited)

	missing := env.do(t, http.MethodGet, "/v1/countries/ZW/risk", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
}

func TestPutCountryRiskInvalidWeight(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPut, "/v1/countries/fr/risk", putCountryRiskRequest{RiskWeight: 1.5})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_risk_weight", payload.Errors[0].Code)
	assert.Equal(t, "risk_weight", payload.Errors[0].Field)
}

func TestModelOutputEndpoints(t *testing.T) {
	env := newTestServer(t)

	put := env.do(t, http.MethodPut, "/v1/model-outputs/txn-1", map[string]float64{
		"ml_risk_score":    0.9,
		"confidence_score": 0.8,
	})
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())

	get := env.do(t, http.MethodGet, "/v1/model-outputs/txn-1", nil)
	require.Equal(t, http.StatusOK, get.Code)
	var output modeloutputdomain.ModelOutput
	decodeData(t, get, &output)
	assert.Equal(t, 0.9, output.RiskScore)
	assert.Equal(t, 0.8, output.Confidence)

	invalid := env.do(t, http.MethodPut, "/v1/model-outputs/txn-1", map[string]float64{
		"ml_risk_score":    1.5,
		"confidence_score": 0.8,
	})
	require.Equal(t, http.StatusBadRequest, invalid.Code)

	missing := env.do(t, http.MethodGet, "/v1/model-outputs/ghost", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
}

func TestAnnotationEndpoints(t *testing.T) {
	env := newTestServer(t)

	put := env.do(t, http.MethodPut, "/v1/annotations/txn-1", map[string]string{
		"reason_code":  "structuring",
		"summary_text": "split deposits just under the reporting line",
	})
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())

	get := env.do(t, http.MethodGet, "/v1/annotations/txn-1", nil)
	require.Equal(t, http.StatusOK, get.Code)
	var note annotationdomain.Annotation
	decodeData(t, get, &note)
	assert.Equal(t, "structuring", note.ReasonCode)
}

func TestListRiskEvents(t *testing.T) {
	env := newTestServer(t)
	env.seedClient(t, "client-a", "US")
	env.seedClient(t, "client-b", "US")
	env.seedCountry(t, "US", 0.1)

	for i, clientID := range []string{"client-a", "client-b"} {
		rec := env.do(t, http.MethodPost, "/v1/transactions",
			ingestBody(fmt.Sprintf("txn-%d", i), clientID, 15000, apiBase))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/v1/risk-events?client_id=client-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data     []riskeventdomain.RiskEvent `json:"data"`
		PageInfo json.RawMessage             `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "txn-0", envelope.Data[0].TransactionID)
	assert.NotNil(t, envelope.PageInfo)

	byKey := env.do(t, http.MethodGet, "/v1/risk-events/"+envelope.Data[0].EventKey, nil)
	require.Equal(t, http.StatusOK, byKey.Code)

	missing := env.do(t, http.MethodGet, "/v1/risk-events/"+strings.Repeat("0", 64), nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
}

func TestEngineInfoReportsActiveContract(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/v1/engine", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info struct {
		EngineVersion string `json:"engine_version"`
		Environment   string `json:"environment"`
		Thresholds    struct {
			LargeAmount  float64 `json:"large_amount"`
			RollingCount int     `json:"rolling_count"`
		} `json:"thresholds"`
		Window        string `json:"window"`
		SeverityBands []struct {
			Tier string  `json:"tier"`
			Min  float64 `json:"min"`
		} `json:"severity_bands"`
	}
	decodeData(t, rec, &info)

	assert.Equal(t, scoring.EngineVersion, info.EngineVersion)
	assert.Equal(t, "test", info.Environment)
	assert.Equal(t, 10000.0, info.Thresholds.LargeAmount)
	assert.Equal(t, 10, info.Thresholds.RollingCount)
	assert.Equal(t, "720h0m0s", info.Window)
	require.Len(t, info.SeverityBands, 4)
	assert.Equal(t, "critical", info.SeverityBands[3].Tier)
}

func TestAuditLogListEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.seedCountry(t, "US", 0.1)

	rec := env.do(t, http.MethodGet, "/v1/audit-logs?action=country_risk.upsert", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Data []auditdomain.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "country_risk.upsert", envelope.Data[0].Action)

	invalid := env.do(t, http.MethodGet, "/v1/audit-logs?start_at=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, invalid.Code)
}
