package workflow

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/clock"
	"github.com/signetlabs/signet/pkg/fga"
	"github.com/signetlabs/signet/pkg/notify"
	"github.com/signetlabs/signet/pkg/store"
)

const testHash = "sha256:3f4e6a2b0d9c8e7f6a5b4c3d2e1f0a9b8c7d6e5f4a3b2c1d0e9f8a7b6c5d4e3f"

// fakeSealer seals instantly with a fixed provider, or defers.
type fakeSealer struct {
	deferred bool
	sealed   int
	provider string
}

func (f *fakeSealer) Seal(_ context.Context, sig *SignatureEvent) (*SealOutcome, error) {
	if f.deferred {
		return &SealOutcome{Deferred: true}, nil
	}
	f.sealed++
	provider := f.provider
	if provider == "" {
		provider = "digicert"
	}
	return &SealOutcome{CompositeID: "comp_" + sig.ID, Provider: provider}, nil
}

type fixture struct {
	engine   *Engine
	store    *store.Memory
	notifier *notify.Memory
	clock    *clock.Simulated
	journal  *audit.Journal
	sealer   *fakeSealer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	notifier := notify.NewMemory()
	clk := clock.NewSimulated(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	journal := audit.NewJournal(mem)
	sealer := &fakeSealer{}
	engine := NewEngine(mem, notifier, clk, journal,
		WithSealer(sealer), WithLogf(t.Logf))
	return &fixture{engine: engine, store: mem, notifier: notifier, clock: clk, journal: journal, sealer: sealer}
}

func sequentialDef(participants ...Participant) *Definition {
	return &Definition{Type: Sequential, Participants: participants}
}

func participant(id, email string, order int) Participant {
	return Participant{ID: id, Email: email, Name: id, TaskKind: TaskSign, OrderIndex: order}
}

// setUp creates a document and a running instance from the definition.
func (f *fixture) setUp(t *testing.T, def *Definition) (*Document, *Instance) {
	t.Helper()
	ctx := context.Background()
	defID, err := f.engine.CreateDefinition(ctx, "creator", def)
	if err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}
	doc, err := f.engine.CreateDocument(ctx, "creator", "MSA", testHash)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	in, err := f.engine.CreateInstance(ctx, "creator", defID, doc.ID, "cmd_create")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	return doc, in
}

func (f *fixture) sign(t *testing.T, in *Instance, taskID, commandID string) *Instance {
	t.Helper()
	out, err := f.engine.Sign(context.Background(), "signer", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      taskID,
		CommandID:   commandID,
		ContentHash: testHash,
		Signature:   []byte("sig-bytes"),
	})
	if err != nil {
		t.Fatalf("Sign(%s): %v", taskID, err)
	}
	return out
}

func auditKinds(t *testing.T, f *fixture, stream string) []audit.Kind {
	t.Helper()
	entries, err := f.journal.Entries(context.Background(), stream)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	kinds := make([]audit.Kind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	return kinds
}

func countKind(kinds []audit.Kind, want audit.Kind) int {
	n := 0
	for _, k := range kinds {
		if k == want {
			n++
		}
	}
	return n
}

func TestU_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     *Definition
		wantErr string
	}{
		{
			"zero participants",
			&Definition{Type: Sequential},
			"at least one participant",
		},
		{
			"duplicate email",
			sequentialDef(participant("p1", "ann@example.com", 0), participant("p2", "Ann@Example.com", 1)),
			"duplicate email",
		},
		{
			"invalid email domain",
			sequentialDef(participant("p1", "ann@localhost", 0)),
			"email",
		},
		{
			"cycle",
			&Definition{
				Type:         Custom,
				Participants: []Participant{participant("p1", "ann@example.com", 0)},
				Stages: []StageDef{
					{ID: "a", ParticipantIDs: []string{"p1"}, DependsOn: []string{"b"}, AutoStart: true},
					{ID: "b", ParticipantIDs: []string{"p1"}, DependsOn: []string{"a"}},
				},
			},
			"cycle",
		},
		{
			"no auto-start",
			&Definition{
				Type:         Custom,
				Participants: []Participant{participant("p1", "ann@example.com", 0)},
				Stages: []StageDef{
					{ID: "a", ParticipantIDs: []string{"p1"}, DependsOn: []string{"b"}},
					{ID: "b", ParticipantIDs: []string{"p1"}, DependsOn: []string{"a"}},
				},
			},
			"auto-start",
		},
		{
			"unknown dependency",
			&Definition{
				Type:         Custom,
				Participants: []Participant{participant("p1", "ann@example.com", 0)},
				Stages: []StageDef{
					{ID: "a", ParticipantIDs: []string{"p1"}, AutoStart: true},
					{ID: "b", ParticipantIDs: []string{"p1"}, DependsOn: []string{"ghost"}},
				},
			},
			"unknown",
		},
		{
			"unreachable stage",
			&Definition{
				Type:         Custom,
				Participants: []Participant{participant("p1", "ann@example.com", 0)},
				Stages: []StageDef{
					{ID: "a", ParticipantIDs: []string{"p1"}, AutoStart: true},
					{ID: "island", ParticipantIDs: []string{"p1"}},
				},
			},
			"not reachable",
		},
	}
	for _, tt := range tests {
		t.Run("[Unit] "+tt.name, func(t *testing.T) {
			issues := Validate(tt.def)
			if issues == nil {
				t.Fatal("expected validation issues")
			}
			if !errors.Is(issues, ErrValidation) {
				t.Errorf("issues do not unwrap to ErrValidation: %v", issues)
			}
			if !strings.Contains(issues.Error(), tt.wantErr) {
				t.Errorf("issues %q do not mention %q", issues.Error(), tt.wantErr)
			}
		})
	}

	t.Run("[Unit] valid definition passes and revalidates", func(t *testing.T) {
		def := sequentialDef(participant("p1", "ann@example.com", 0), participant("p2", "bob@example.com", 1))
		if issues := Validate(def); issues != nil {
			t.Fatalf("unexpected issues: %v", issues)
		}
		// Validation is a pure check: re-running it changes nothing.
		if issues := Validate(def); issues != nil {
			t.Fatalf("revalidation found issues: %v", issues)
		}
	})
}

// Sequential two-signer happy path: both sign, document completes, and
// the audit stream tells the whole story.
func TestF_Sequential_TwoSigners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, in := f.setUp(t, sequentialDef(
		participant("p1", "ann@example.com", 0),
		participant("p2", "bob@example.com", 1),
	))

	if in.Stages[0].Status != StageReady {
		t.Fatalf("stage 1 = %s, want Ready", in.Stages[0].Status)
	}
	if in.Stages[1].Status != StageBlocked {
		t.Fatalf("stage 2 = %s, want Blocked", in.Stages[1].Status)
	}
	gotDoc, err := f.engine.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if gotDoc.Status != DocOut {
		t.Fatalf("document = %s, want Out", gotDoc.Status)
	}

	in, err = f.engine.Start(ctx, "creator", in.ID, "stage_1", "cmd_start")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if in.Stages[0].Status != StageActive {
		t.Fatalf("stage 1 = %s, want Active", in.Stages[0].Status)
	}
	if got := in.Stages[0].Tasks[0].Status; got != TaskInvited {
		t.Fatalf("task 1 = %s, want Invited", got)
	}

	// First signer views, then signs.
	task1 := in.Stages[0].Tasks[0]
	if _, err := f.engine.View(ctx, "ann@example.com", in.ID, task1.ID, "cmd_view1"); err != nil {
		t.Fatalf("View: %v", err)
	}
	in = f.sign(t, in, task1.ID, "cmd_sign1")

	if in.Stages[0].Status != StageDone {
		t.Fatalf("stage 1 = %s, want Done", in.Stages[0].Status)
	}
	if in.Stages[1].Status != StageActive {
		t.Fatalf("stage 2 = %s, want Active (auto-advanced)", in.Stages[1].Status)
	}
	task2 := in.Stages[1].Tasks[0]
	if task2.Status != TaskInvited {
		t.Fatalf("task 2 = %s, want Invited", task2.Status)
	}

	in = f.sign(t, in, task2.ID, "cmd_sign2")
	if in.Status != InstanceCompleted {
		t.Fatalf("instance = %s, want Completed", in.Status)
	}
	gotDoc, _ = f.engine.GetDocument(ctx, doc.ID)
	if gotDoc.Status != DocCompleted {
		t.Fatalf("document = %s, want Completed", gotDoc.Status)
	}
	if f.sealer.sealed != 2 {
		t.Errorf("sealed %d composites, want 2", f.sealer.sealed)
	}

	kinds := auditKinds(t, f, doc.ID)
	for _, want := range []audit.Kind{
		audit.KindCreated, audit.KindStarted, audit.KindInvited,
		audit.KindViewed, audit.KindSigned, audit.KindStageDone, audit.KindCompleted,
	} {
		if countKind(kinds, want) == 0 {
			t.Errorf("audit stream missing %s (got %v)", want, kinds)
		}
	}
	if got := countKind(kinds, audit.KindSigned); got != 2 {
		t.Errorf("SIGNED entries = %d, want 2", got)
	}
	if got := countKind(kinds, audit.KindStageDone); got != 2 {
		t.Errorf("STAGE_DONE entries = %d, want 2", got)
	}

	// The chain must verify end to end.
	result, err := f.journal.VerifyStream(ctx, doc.ID)
	if err != nil {
		t.Fatalf("VerifyStream: %v", err)
	}
	if result.Corrupt {
		t.Errorf("audit stream corrupt at seq %d: %s", result.FirstBadSeq, result.Reason)
	}
}

// Single participant, Sequential: the workflow completes after one
// signature.
func TestU_Sequential_SingleSigner(t *testing.T) {
	f := newFixture(t)
	_, in := f.setUp(t, sequentialDef(participant("p1", "ann@example.com", 0)))
	in, err := f.engine.Start(context.Background(), "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	in = f.sign(t, in, in.Stages[0].Tasks[0].ID, "")
	if in.Status != InstanceCompleted {
		t.Errorf("instance = %s, want Completed", in.Status)
	}
}

// Parallel with one decline: the stage fails, pending tasks are
// cancelled, and the document is declined.
func TestF_Parallel_Decline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, in := f.setUp(t, &Definition{
		Type: Parallel,
		Participants: []Participant{
			participant("p1", "ann@example.com", 0),
			participant("p2", "bob@example.com", 1),
			participant("p3", "cyd@example.com", 2),
		},
	})

	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var task1, task2, task3 *Task
	for _, task := range in.Stages[0].Tasks {
		switch task.ParticipantID {
		case "p1":
			task1 = task
		case "p2":
			task2 = task
		case "p3":
			task3 = task
		}
	}

	in = f.sign(t, in, task1.ID, "")
	in, err = f.engine.Decline(ctx, "bob@example.com", in.ID, task2.ID, "refuse", "cmd_decline")
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}

	if in.Status != InstanceDeclined {
		t.Fatalf("instance = %s, want Declined", in.Status)
	}
	if got := in.Stages[0].Status; got != StageFailed {
		t.Errorf("stage = %s, want Failed", got)
	}
	_, t3 := in.FindTask(task3.ID)
	if t3.Status != TaskCancelled {
		t.Errorf("pending task = %s, want Cancelled", t3.Status)
	}
	gotDoc, _ := f.engine.GetDocument(ctx, doc.ID)
	if gotDoc.Status != DocDeclined {
		t.Errorf("document = %s, want Declined", gotDoc.Status)
	}
	if got := len(f.notifier.SentOfKind(notify.KindDecline)); got == 0 {
		t.Error("no decline notifications sent")
	}
}

// Custom DAG with delegation: S1 -> {S2, S3} -> S4; the S2 signer
// delegates, the delegate signs, S3 signs independently, and S4
// activates only when both are done.
func TestF_CustomDAG_Delegation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := &Definition{
		Type: Custom,
		Participants: []Participant{
			participant("p1", "ann@example.com", 0),
			participant("p2", "bob@example.com", 1),
			participant("p3", "cyd@example.com", 2),
			participant("p4", "dee@example.com", 3),
		},
		Stages: []StageDef{
			{ID: "s1", ParticipantIDs: []string{"p1"}, AutoStart: true},
			{ID: "s2", ParticipantIDs: []string{"p2"}, DependsOn: []string{"s1"}, AllowDelegation: true},
			{ID: "s3", ParticipantIDs: []string{"p3"}, DependsOn: []string{"s1"}},
			{ID: "s4", ParticipantIDs: []string{"p4"}, DependsOn: []string{"s2", "s3"}},
		},
	}
	_, in := f.setUp(t, def)

	in, err := f.engine.Start(ctx, "creator", in.ID, "s1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	in = f.sign(t, in, in.Stage("s1").Tasks[0].ID, "")

	if in.Stage("s2").Status != StageActive || in.Stage("s3").Status != StageActive {
		t.Fatalf("s2=%s s3=%s, want both Active", in.Stage("s2").Status, in.Stage("s3").Status)
	}
	if in.Stage("s4").Status != StageBlocked {
		t.Fatalf("s4 = %s, want Blocked", in.Stage("s4").Status)
	}

	// Bob delegates to a new signer, who then signs.
	bobTask := in.Stage("s2").Tasks[0]
	in, err = f.engine.Delegate(ctx, "bob@example.com", in.ID, bobTask.ID,
		Participant{ID: "p2b", Email: "eve@example.com", Name: "eve"}, "cmd_delegate")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	_, delegated := in.FindTask(bobTask.ID)
	if delegated.Status != TaskDelegated {
		t.Fatalf("delegated task = %s, want Delegated", delegated.Status)
	}
	replacement := in.Stage("s2").Tasks[1]
	if replacement.DelegatedFrom != bobTask.ID || replacement.Status != TaskInvited {
		t.Fatalf("replacement task %+v not wired to original", replacement)
	}

	in = f.sign(t, in, replacement.ID, "")
	if in.Stage("s2").Status != StageDone {
		t.Fatalf("s2 = %s, want Done", in.Stage("s2").Status)
	}
	if in.Stage("s4").Status != StageBlocked {
		t.Fatalf("s4 = %s, want still Blocked until s3 is done", in.Stage("s4").Status)
	}

	in = f.sign(t, in, in.Stage("s3").Tasks[0].ID, "")
	if in.Stage("s4").Status != StageActive {
		t.Fatalf("s4 = %s, want Active after both dependencies", in.Stage("s4").Status)
	}

	in = f.sign(t, in, in.Stage("s4").Tasks[0].ID, "")
	if in.Status != InstanceCompleted {
		t.Errorf("instance = %s, want Completed", in.Status)
	}
}

// Delegation on a stage that forbids it is refused.
func TestU_Delegate_NotAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, in := f.setUp(t, sequentialDef(participant("p1", "ann@example.com", 0)))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = f.engine.Delegate(ctx, "ann@example.com", in.ID, in.Stages[0].Tasks[0].ID,
		Participant{Email: "eve@example.com"}, "")
	if !errors.Is(err, ErrDelegationNotAllowed) {
		t.Errorf("error = %v, want ErrDelegationNotAllowed", err)
	}
}

// Replaying a command with the same command id returns the same state
// and appends no duplicate audit entries.
func TestF_Command_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, in := f.setUp(t, sequentialDef(participant("p1", "ann@example.com", 0)))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "cmd_start")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	taskID := in.Stages[0].Tasks[0].ID

	in = f.sign(t, in, taskID, "cmd_sign")
	before := auditKinds(t, f, doc.ID)
	sealedBefore := f.sealer.sealed

	replay := f.sign(t, in, taskID, "cmd_sign")
	if replay.Status != in.Status {
		t.Errorf("replay status = %s, want %s", replay.Status, in.Status)
	}
	after := auditKinds(t, f, doc.ID)
	if len(after) != len(before) {
		t.Errorf("replay appended %d audit entries", len(after)-len(before))
	}
	if f.sealer.sealed != sealedBefore {
		t.Errorf("replay reached the sealer (%d -> %d)", sealedBefore, f.sealer.sealed)
	}
}

// conflictingPort fails the first conditional document update with a
// version conflict.
type conflictingPort struct {
	store.Port
	fired bool
}

func (c *conflictingPort) Put(ctx context.Context, collection, id string, data []byte, expectedVersion int64) (int64, error) {
	if !c.fired && collection == store.ColDocuments && expectedVersion > 0 {
		c.fired = true
		return 0, &store.ConflictError{Collection: collection, ID: id, Expected: expectedVersion, CurrentVersion: expectedVersion + 1}
	}
	return c.Port.Put(ctx, collection, id, data, expectedVersion)
}

// A document version conflict during instance creation retries without
// leaving an orphaned instance record behind.
func TestU_CreateInstance_ConflictLeavesNoOrphan(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	port := &conflictingPort{Port: mem}
	clk := clock.NewSimulated(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	engine := NewEngine(port, notify.NewMemory(), clk, audit.NewJournal(port), WithLogf(t.Logf))

	defID, err := engine.CreateDefinition(ctx, "creator", sequentialDef(participant("p1", "ann@example.com", 0)))
	if err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}
	doc, err := engine.CreateDocument(ctx, "creator", "MSA", testHash)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	in, err := engine.CreateInstance(ctx, "creator", defID, doc.ID, "cmd_create")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if !port.fired {
		t.Fatal("test port injected no conflict")
	}

	records, err := mem.List(ctx, store.ColInstances, nil, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("instance records after retried create = %d, want 1", len(records))
	}
	if records[0].ID != in.ID {
		t.Errorf("stored instance %s does not match returned %s", records[0].ID, in.ID)
	}
}

func TestU_Sign_ContentHashMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, in := f.setUp(t, sequentialDef(participant("p1", "ann@example.com", 0)))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = f.engine.Sign(ctx, "ann@example.com", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      in.Stages[0].Tasks[0].ID,
		ContentHash: "sha256:0000000000000000000000000000000000000000000000000000000000000000",
		Signature:   []byte("sig"),
	})
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("error = %v, want ErrIntegrity", err)
	}
}

func TestU_Sign_MFARequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := participant("p1", "ann@example.com", 0)
	p.RequireMFA = true
	_, in := f.setUp(t, sequentialDef(p))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = f.engine.Sign(ctx, "ann@example.com", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      in.Stages[0].Tasks[0].ID,
		ContentHash: testHash,
		Signature:   []byte("sig"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}

	// With evidence the same request succeeds.
	if _, err := f.engine.Sign(ctx, "ann@example.com", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      in.Stages[0].Tasks[0].ID,
		ContentHash: testHash,
		Signature:   []byte("sig"),
		MFA:         &MFAEvidence{Method: "otp", VerifiedAt: f.clock.Now()},
	}); err != nil {
		t.Fatalf("Sign with MFA: %v", err)
	}
}

// signerCredentials issues a self-signed certificate on the given curve
// and signs the test document hash with it.
func signerCredentials(t *testing.T, curve elliptic.Curve) (sigBytes, certDER []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate signer key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "ann@example.com"},
		NotBefore:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err = x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create signer certificate: %v", err)
	}

	var digest []byte
	if curve == elliptic.P384() {
		d := sha512.Sum384([]byte(testHash))
		digest = d[:]
	} else {
		d := sha256.Sum256([]byte(testHash))
		digest = d[:]
	}
	sigBytes, err = ecdsa.SignASN1(rand.Reader, key, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sigBytes, certDER
}

// When a signer certificate accompanies the request the signature bytes
// must verify against its key over the document hash.
func TestU_Sign_SignerCertificateVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, in := f.setUp(t, sequentialDef(participant("p1", "ann@example.com", 0)))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	taskID := in.Stages[0].Tasks[0].ID
	sigBytes, certDER := signerCredentials(t, elliptic.P256())

	// A tampered signature is rejected with an integrity error.
	tampered := append([]byte(nil), sigBytes...)
	tampered[0] ^= 0xff
	_, err = f.engine.Sign(ctx, "ann@example.com", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      taskID,
		ContentHash: testHash,
		Signature:   tampered,
		SignerCert:  certDER,
	})
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}

	// The genuine signature signs the task off.
	in, err = f.engine.Sign(ctx, "ann@example.com", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      taskID,
		ContentHash: testHash,
		Signature:   sigBytes,
		SignerCert:  certDER,
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if in.Status != InstanceCompleted {
		t.Errorf("instance = %s, want Completed", in.Status)
	}
}

// Qualified participants must present a certificate on an accepted
// algorithm; P-256 is below the bar, P-384 passes.
func TestU_Sign_QualifiedRequiresStrongKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := participant("p1", "ann@example.com", 0)
	p.CertLevel = CertQualified
	_, in := f.setUp(t, sequentialDef(p))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	taskID := in.Stages[0].Tasks[0].ID

	// No certificate at all.
	_, err = f.engine.Sign(ctx, "ann@example.com", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      taskID,
		ContentHash: testHash,
		Signature:   []byte("sig"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation for missing certificate", err)
	}

	weakSig, weakCert := signerCredentials(t, elliptic.P256())
	_, err = f.engine.Sign(ctx, "ann@example.com", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      taskID,
		ContentHash: testHash,
		Signature:   weakSig,
		SignerCert:  weakCert,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation for P-256 at Qualified level", err)
	}

	strongSig, strongCert := signerCredentials(t, elliptic.P384())
	in, err = f.engine.Sign(ctx, "ann@example.com", &SignRequest{
		InstanceID:  in.ID,
		TaskID:      taskID,
		ContentHash: testHash,
		Signature:   strongSig,
		SignerCert:  strongCert,
	})
	if err != nil {
		t.Fatalf("Sign with P-384: %v", err)
	}
	if in.Status != InstanceCompleted {
		t.Errorf("instance = %s, want Completed", in.Status)
	}
}

// TSA down at sign time: the signature is retained awaiting its
// timestamp and the workflow still advances.
func TestF_Sign_TSADeferred(t *testing.T) {
	f := newFixture(t)
	f.sealer.deferred = true
	ctx := context.Background()
	doc, in := f.setUp(t, sequentialDef(participant("p1", "ann@example.com", 0)))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	in = f.sign(t, in, in.Stages[0].Tasks[0].ID, "")
	if in.Status != InstanceCompleted {
		t.Fatalf("instance = %s, want Completed despite deferred timestamp", in.Status)
	}

	kinds := auditKinds(t, f, doc.ID)
	if countKind(kinds, audit.KindTimestampDeferred) != 1 {
		t.Errorf("expected one TIMESTAMP_DEFERRED entry, kinds=%v", kinds)
	}

	// The signature record is marked for backfill.
	records, err := f.store.List(ctx, store.ColSignatures, nil, 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("signatures: %v (%d records)", err, len(records))
	}
	var sig SignatureEvent
	if _, err := store.GetJSON(ctx, f.store, store.ColSignatures, records[0].ID, &sig); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if sig.Status != SigAwaitingTimestamp {
		t.Errorf("signature status = %s, want awaiting_timestamp", sig.Status)
	}
}

// Deadline elapsed by one millisecond: the task expires on the next
// tick and the instance fails.
func TestF_TimeTick_DeadlineExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, in := f.setUp(t, sequentialDef(participant("p1", "ann@example.com", 0)))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := *in.Stages[0].Deadline

	// One millisecond before the deadline nothing expires.
	in, err = f.engine.TimeTick(ctx, in.ID, deadline.Add(-time.Millisecond))
	if err != nil {
		t.Fatalf("TimeTick: %v", err)
	}
	if got := in.Stages[0].Tasks[0].Status; got.Terminal() {
		t.Fatalf("task expired before the deadline: %s", got)
	}

	in, err = f.engine.TimeTick(ctx, in.ID, deadline.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("TimeTick: %v", err)
	}
	if got := in.Stages[0].Tasks[0].Status; got != TaskExpired {
		t.Errorf("task = %s, want Expired", got)
	}
	if in.Status != InstanceExpired {
		t.Errorf("instance = %s, want Expired", in.Status)
	}
	gotDoc, _ := f.engine.GetDocument(ctx, doc.ID)
	if gotDoc.Status != DocExpired {
		t.Errorf("document = %s, want Expired", gotDoc.Status)
	}
}

// Reminders fire at the configured cadence and a replayed tick sends
// nothing new.
func TestF_TimeTick_ReminderCadence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := sequentialDef(participant("p1", "ann@example.com", 0))
	def.Settings.ReminderHours = 24
	_, in := f.setUp(t, def)
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	invitedAt := *in.Stages[0].Tasks[0].InvitedAt

	at := invitedAt.Add(24*time.Hour + time.Minute)
	if _, err := f.engine.TimeTick(ctx, in.ID, at); err != nil {
		t.Fatalf("TimeTick: %v", err)
	}
	if got := len(f.notifier.SentOfKind(notify.KindReminder)); got != 1 {
		t.Fatalf("reminders after first cadence = %d, want 1", got)
	}

	// Same instant again: idempotent, no second reminder.
	if _, err := f.engine.TimeTick(ctx, in.ID, at); err != nil {
		t.Fatalf("TimeTick: %v", err)
	}
	if got := len(f.notifier.SentOfKind(notify.KindReminder)); got != 1 {
		t.Fatalf("replayed tick sent reminders, total %d", got)
	}

	// Next cadence point: second reminder.
	if _, err := f.engine.TimeTick(ctx, in.ID, invitedAt.Add(48*time.Hour+time.Minute)); err != nil {
		t.Fatalf("TimeTick: %v", err)
	}
	if got := len(f.notifier.SentOfKind(notify.KindReminder)); got != 2 {
		t.Fatalf("reminders after second cadence = %d, want 2", got)
	}
}

// A pending delegation holds expiry: the replacement task survives the
// deadline, gets escalated after the configured delay, and its holder
// can still sign.
func TestF_TimeTick_DelegationHoldsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := &Definition{
		Type:         Custom,
		Participants: []Participant{participant("p1", "ann@example.com", 0)},
		Stages: []StageDef{
			{ID: "s1", ParticipantIDs: []string{"p1"}, AutoStart: true, AllowDelegation: true},
		},
	}
	_, in := f.setUp(t, def)
	in, err := f.engine.Start(ctx, "creator", in.ID, "s1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := *in.Stage("s1").Deadline

	in, err = f.engine.Delegate(ctx, "ann@example.com", in.ID, in.Stage("s1").Tasks[0].ID,
		Participant{ID: "p1b", Email: "eve@example.com", Name: "eve"}, "")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	replacement := in.Stage("s1").Tasks[1]

	in, err = f.engine.TimeTick(ctx, in.ID, deadline.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("TimeTick: %v", err)
	}
	_, rep := in.FindTask(replacement.ID)
	if rep.Status != TaskInvited {
		t.Fatalf("replacement = %s, want still Invited past the deadline", rep.Status)
	}
	if in.Status != InstanceRunning {
		t.Fatalf("instance = %s, want still Running", in.Status)
	}

	// Past the escalation delay the open replacement is escalated once.
	at := deadline.Add(def.escalationDelay() + time.Minute)
	in, err = f.engine.TimeTick(ctx, in.ID, at)
	if err != nil {
		t.Fatalf("TimeTick: %v", err)
	}
	_, rep = in.FindTask(replacement.ID)
	if !rep.Escalated {
		t.Fatal("replacement not escalated after the delay")
	}
	if got := len(f.notifier.SentOfKind(notify.KindEscalation)); got != 1 {
		t.Fatalf("escalation notifications = %d, want 1", got)
	}

	// Replayed tick: idempotent, no second escalation.
	if _, err := f.engine.TimeTick(ctx, in.ID, at); err != nil {
		t.Fatalf("TimeTick replay: %v", err)
	}
	if got := len(f.notifier.SentOfKind(notify.KindEscalation)); got != 1 {
		t.Fatalf("replayed tick escalated again, total %d", got)
	}

	// The delegate can still complete the workflow.
	in = f.sign(t, in, replacement.ID, "")
	if in.Status != InstanceCompleted {
		t.Errorf("instance = %s, want Completed", in.Status)
	}
}

func TestU_Void_CancelsOpenTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, in := f.setUp(t, sequentialDef(participant("p1", "ann@example.com", 0)))
	in, err := f.engine.Start(ctx, "creator", in.ID, "stage_1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	in, err = f.engine.Void(ctx, "creator", in.ID, "superseded", "cmd_void")
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if in.Status != InstanceVoided {
		t.Errorf("instance = %s, want Voided", in.Status)
	}
	if got := in.Stages[0].Tasks[0].Status; got != TaskCancelled {
		t.Errorf("task = %s, want Cancelled", got)
	}
	gotDoc, _ := f.engine.GetDocument(ctx, doc.ID)
	if gotDoc.Status != DocVoided {
		t.Errorf("document = %s, want Voided", gotDoc.Status)
	}
}

// denyAll refuses every request.
type denyAll struct{}

func (denyAll) Evaluate(context.Context, *fga.Request) (*fga.Result, error) {
	return &fga.Result{Decision: fga.Deny, Reason: "denied by test"}, nil
}

func TestU_AuthorizationGate(t *testing.T) {
	mem := store.NewMemory()
	clk := clock.NewSimulated(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	engine := NewEngine(mem, notify.NewMemory(), clk, audit.NewJournal(mem),
		WithAuthorizer(denyAll{}), WithLogf(t.Logf))

	_, err := engine.CreateInstance(context.Background(), "mallory", "def_x", "doc_x", "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}
