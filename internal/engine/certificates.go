package engine

import (
	"context"
	"database/sql"
	"errors"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/events"
	"credchain/internal/repo"
)

// IssueCertificate records completion of a Completed contract for the
// calling party. One certificate per (party, contract).
func (e Engine) IssueCertificate(ctx context.Context, contractID string, actor address.Address) (domain.Certificate, error) {
	var cert domain.Certificate
	err := e.readContract(ctx, "IssueCertificate", contractID, func(tx *sql.Tx, c domain.Contract) error {
		if err := requireParty(&c, actor); err != nil {
			return err
		}
		if err := ensureContractStatus(&c, domain.ContractCompleted); err != nil {
			return err
		}
		pda, err := derived(e.Deriver.Completion(actor, contractID))
		if err != nil {
			return err
		}
		_, err = e.Repo.GetCertificate(ctx, tx, pda.Address)
		switch {
		case err == nil:
			return apperr.Precondition(apperr.CodeCertificateIssued, "certificate for %s on %s already issued", actor, contractID)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		serial, err := e.Repo.IncrementCounter(ctx, tx, repo.CounterCertificates)
		if err != nil {
			return err
		}
		counterparty := c.Client
		if actor == c.Client {
			counterparty = c.Freelancer
		}
		cert = domain.Certificate{
			Address:      pda.Address,
			Bump:         pda.Bump,
			Contract:     c.Address,
			ContractID:   c.ContractID,
			Party:        actor,
			Counterparty: counterparty,
			Amount:       c.PaidAmount,
			SerialNumber: serial,
			IssuedAt:     e.now(),
		}
		if err := e.Repo.InsertCertificate(ctx, tx, cert); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "certificate.issued", events.KindCertificate, cert.Address, actor, events.EventPayload{
			"contract_id":   contractID,
			"serial_number": serial,
			"amount":        cert.Amount,
		})
	})
	if err != nil {
		return domain.Certificate{}, err
	}
	return cert, nil
}

func (e Engine) ListCertificates(ctx context.Context, party address.Address) ([]domain.Certificate, error) {
	return e.Repo.ListCertificates(ctx, party)
}
