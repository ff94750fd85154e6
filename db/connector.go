package db

import (
	"context"
	"database/sql/driver"
)

// dsnConnector adapts a driver and a fixed DSN to driver.Connector so the
// driver value (and its connect hook) can be used without sql.Register.
type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c *dsnConnector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.driver.Open(c.dsn)
}

func (c *dsnConnector) Driver() driver.Driver {
	return c.driver
}
