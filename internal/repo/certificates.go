package repo

import (
	"context"
	"database/sql"

	"credchain/internal/address"
	"credchain/internal/domain"
)

const certificateColumns = `address,bump,contract_address,contract_id,party,counterparty,amount,serial_number,issued_at`

func (r Repo) InsertCertificate(ctx context.Context, tx *sql.Tx, c domain.Certificate) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO certificates(`+certificateColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.Address.String(), c.Bump, c.Contract.String(), c.ContractID, c.Party.String(), c.Counterparty.String(),
		toInt64(c.Amount), c.SerialNumber, formatTime(c.IssuedAt))
	return err
}

func (r Repo) GetCertificate(ctx context.Context, tx *sql.Tx, addr address.Address) (domain.Certificate, error) {
	return scanCertificate(r.q(tx).QueryRowContext(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE address=?`, addr.String()))
}

func (r Repo) ListCertificates(ctx context.Context, party address.Address) ([]domain.Certificate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE party=? ORDER BY serial_number`, party.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCertificate(s scanner) (domain.Certificate, error) {
	var c domain.Certificate
	var addr, contract, party, counterparty, issued string
	var amount int64
	if err := s.Scan(&addr, &c.Bump, &contract, &c.ContractID, &party, &counterparty, &amount, &c.SerialNumber, &issued); err != nil {
		return domain.Certificate{}, noRows(err)
	}
	var err error
	if c.Address, err = parseAddr(addr); err != nil {
		return domain.Certificate{}, err
	}
	if c.Contract, err = parseAddr(contract); err != nil {
		return domain.Certificate{}, err
	}
	if c.Party, err = parseAddr(party); err != nil {
		return domain.Certificate{}, err
	}
	if c.Counterparty, err = parseAddr(counterparty); err != nil {
		return domain.Certificate{}, err
	}
	if c.IssuedAt, err = parseTime(issued); err != nil {
		return domain.Certificate{}, err
	}
	c.Amount = fromInt64(amount)
	return c, nil
}
