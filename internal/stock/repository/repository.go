// Package repository implements the stock persistence ports on PostgreSQL.
// Every statement runs through database.DB.Conn so it joins the transaction
// carried by ctx, if any.
package repository

import (
	"strconv"
	"strings"

	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
)

// conditions accumulates WHERE clauses. Each "?" in a clause is replaced by
// the positional placeholder of its argument.
type conditions struct {
	clauses []string
	args    []interface{}
}

func (c *conditions) add(clause string, arg interface{}) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, strings.Replace(clause, "?", "$"+strconv.Itoa(len(c.args)), 1))
}

func (c *conditions) raw(clause string) {
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// page returns the LIMIT/OFFSET suffix and the arguments including it
func (c *conditions) page(page, perPage int) (string, []interface{}) {
	if page < 1 {
		page = 1
	}
	n := len(c.args)
	args := make([]interface{}, n, n+2)
	copy(args, c.args)
	args = append(args, perPage, (page-1)*perPage)
	return " LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2), args
}

// notFoundOr maps sql.ErrNoRows to NotFound and anything else through MapError
func notFoundOr(err error, resource, id string) error {
	if database.IsNoRows(err) {
		return errors.NotFound(resource, id)
	}
	return database.MapError(err, "get "+resource)
}

func strs[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
