package composite

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/json"
	"sync"
	"time"

	"github.com/signetlabs/signet/pkg/clock"
	"github.com/signetlabs/signet/pkg/cryptoutil"
	"github.com/signetlabs/signet/pkg/revocation"
	"github.com/signetlabs/signet/pkg/store"
)

// RunValidation performs one long-term validation pass: every composite
// whose next_validation_due has passed gets a fresh report, a new due
// time, and its re_timestamp_needed flag updated. Per-composite
// failures are logged and skipped.
func (s *Service) RunValidation(ctx context.Context, now time.Time) (int, error) {
	records, err := s.store.List(ctx, store.ColComposites, func(rec *store.Record) bool {
		var probe struct {
			NextValidationDue time.Time `json:"next_validation_due"`
		}
		if err := json.Unmarshal(rec.Data, &probe); err != nil {
			return false
		}
		return !probe.NextValidationDue.After(now)
	}, 0)
	if err != nil {
		return 0, &CompositeError{Op: "validate", Err: err}
	}

	checked := 0
	for _, rec := range records {
		var comp Composite
		if err := json.Unmarshal(rec.Data, &comp); err != nil {
			s.logf("composite: validation: bad record %s: %v", rec.ID, err)
			continue
		}

		report := s.validateComposite(ctx, &comp, now)
		if _, err := store.PutJSON(ctx, s.store, store.ColValidationReports, report.ID, report, 0); err != nil {
			s.logf("composite: validation: failed to persist report for %s: %v", comp.ID, err)
			continue
		}

		comp.NextValidationDue = report.NextValidationDue
		comp.ReTimestampNeeded = report.ReTimestampNeeded
		if _, err := store.PutJSON(ctx, s.store, store.ColComposites, comp.ID, &comp, rec.Version); err != nil {
			s.logf("composite: validation: failed to update %s: %v", comp.ID, err)
			continue
		}
		checked++
	}
	return checked, nil
}

// validateComposite builds the report for one composite.
func (s *Service) validateComposite(ctx context.Context, comp *Composite, now time.Time) *ValidationReport {
	report := &ValidationReport{
		ID:                clock.NewID("vr"),
		CompositeID:       comp.ID,
		CheckedAt:         now,
		SignerStatus:      string(revocation.StatusUnknown),
		AuthorityStatus:   string(revocation.StatusUnknown),
		NextValidationDue: now.Add(s.validationInterval),
	}

	if cert, err := comp.SignerCertificate(); err != nil {
		report.Notes = append(report.Notes, "signer certificate unparseable: "+err.Error())
	} else if cert == nil {
		report.Notes = append(report.Notes, "no signer certificate recorded")
	} else {
		report.SignerStatus, report.SignerSource = s.certStatus(ctx, cert, s.signerIssuer, "signer", report)
	}

	if len(comp.AuthorityCert) > 0 {
		if cert, err := x509.ParseCertificate(comp.AuthorityCert); err != nil {
			report.Notes = append(report.Notes, "authority certificate unparseable: "+err.Error())
		} else {
			report.AuthorityStatus, _ = s.certStatus(ctx, cert, s.authorityIssuer, "authority", report)
		}
	}

	if now.Sub(comp.TSATime) > reTimestampAfter {
		report.ReTimestampNeeded = true
		report.Notes = append(report.Notes, "token older than re-timestamp horizon")
	}
	if cryptoutil.DeprecatedHashAlgorithms[comp.HashAlgorithm] {
		report.ReTimestampNeeded = true
		report.Notes = append(report.Notes, "token uses deprecated hash algorithm "+string(comp.HashAlgorithm))
	}

	return report
}

// certStatus resolves one certificate's revocation status, recording a
// note when no authoritative answer is possible.
func (s *Service) certStatus(ctx context.Context, cert, issuer *x509.Certificate, role string, report *ValidationReport) (string, string) {
	if s.checker == nil || issuer == nil {
		report.Notes = append(report.Notes, role+" revocation not checked: no checker or issuer configured")
		return string(revocation.StatusUnknown), ""
	}
	res, err := s.checker.Check(ctx, cert, issuer)
	if err != nil {
		report.Notes = append(report.Notes, role+" revocation check failed: "+err.Error())
		if res != nil {
			return string(res.Status), res.Source
		}
		return string(revocation.StatusUnknown), ""
	}
	return string(res.Status), res.Source
}

// ReTimestamp wraps the composite's current token in a fresh one whose
// imprint covers the old token's bytes, clearing re_timestamp_needed.
func (s *Service) ReTimestamp(ctx context.Context, compositeID string) (*Composite, error) {
	var comp Composite
	version, err := store.GetJSON(ctx, s.store, store.ColComposites, compositeID, &comp)
	if err != nil {
		return nil, &CompositeError{Op: "retimestamp", CompositeID: compositeID, Err: err}
	}

	covered := cryptoutil.SHA256(comp.CurrentToken())
	nonce, err := newNonce()
	if err != nil {
		return nil, &CompositeError{Op: "retimestamp", CompositeID: compositeID, Err: err}
	}
	token, err := s.tsa.Timestamp(ctx, crypto.SHA256, covered, nonce)
	if err != nil {
		return nil, &CompositeError{Op: "retimestamp", CompositeID: compositeID, Err: err}
	}

	now := s.clock.Now()
	comp.Renewals = append(comp.Renewals, Renewal{
		Token:    token.Raw,
		Provider: token.Provider,
		TSATime:  token.GenTime(),
	})
	comp.ReTimestampNeeded = false
	comp.NextValidationDue = now.Add(s.validationInterval)

	tsRec := &TimestampRecord{
		ID:          clock.NewID("ts"),
		CompositeID: comp.ID,
		Provider:    token.Provider,
		Serial:      serialString(token),
		GenTime:     token.GenTime(),
		Token:       token.Raw,
		CreatedAt:   now,
	}
	if _, err := store.PutJSON(ctx, s.store, store.ColTimestamps, tsRec.ID, tsRec, 0); err != nil {
		return nil, &CompositeError{Op: "retimestamp", CompositeID: compositeID, Err: err}
	}
	if _, err := store.PutJSON(ctx, s.store, store.ColComposites, comp.ID, &comp, version); err != nil {
		return nil, &CompositeError{Op: "retimestamp", CompositeID: compositeID, Err: err}
	}
	return &comp, nil
}

// StartDailyValidation schedules a validation pass every 24 hours on
// the service clock. The returned cancel stops future passes.
func (s *Service) StartDailyValidation(ctx context.Context) (cancel func()) {
	const interval = 24 * time.Hour

	var mu sync.Mutex
	var stopped bool
	var cancelNext func()

	var schedule func(at time.Time)
	schedule = func(at time.Time) {
		next := s.clock.Schedule(at, func(now time.Time) {
			if ctx.Err() != nil {
				return
			}
			if _, err := s.RunValidation(ctx, now); err != nil {
				s.logf("composite: scheduled validation failed: %v", err)
			}
			mu.Lock()
			if !stopped {
				schedule(now.Add(interval))
			}
			mu.Unlock()
		})
		cancelNext = next
	}

	mu.Lock()
	schedule(s.clock.Now().Add(interval))
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if cancelNext != nil {
			cancelNext()
		}
	}
}
