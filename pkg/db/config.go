package db

// Config carries the connection settings for the points store. Type
// selects the gorm dialect: postgres (the deployment target), mysql,
// or sqlite (tests and local scratch databases).
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	// Pool limits, in connections and seconds. Zero means "use the
	// playpoints defaults" below, not "unlimited".
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

// Pool defaults sized for the ledger's short row-locking transactions:
// enough open connections to absorb award bursts, recycled fast enough
// that a proxy or failover never hands back stale sockets.
const (
	defaultMaxIdleConn     = 5
	defaultMaxOpenConn     = 25
	defaultConnMaxLifetime = 1800
	defaultConnMaxIdleTime = 300
)

func (c Config) withDefaults() Config {
	if c.MaxIdleConn <= 0 {
		c.MaxIdleConn = defaultMaxIdleConn
	}
	if c.MaxOpenConn <= 0 {
		c.MaxOpenConn = defaultMaxOpenConn
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = defaultConnMaxIdleTime
	}
	return c
}
