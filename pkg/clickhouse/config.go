package clickhouse

import (
	"net"
	"strconv"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

// Config describes the decision journal database. Zero values fall back to defaults.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	UseHTTP  bool
	// AsyncInsert lets the server buffer small journal batches; WaitForAsync
	// makes an insert return only once its buffer is flushed.
	AsyncInsert  bool
	WaitForAsync bool

	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	MaxExecTime     time.Duration
	PingWait        time.Duration // how long NewClient retries the first ping
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 9000
		if c.UseHTTP {
			c.Port = 8123
		}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.PingWait <= 0 {
		c.PingWait = 5 * time.Second
	}
	// one journal writer plus the read endpoints
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns <= 0 || c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
}

// options maps the config onto driver options. Pool limits stay on the *sql.DB
// because OpenDB rejects them here.
func (c Config) options() *ch.Options {
	opt := &ch.Options{
		Addr: []string{net.JoinHostPort(c.Host, strconv.Itoa(c.Port))},
		Auth: ch.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		DialTimeout: c.DialTimeout,
		ReadTimeout: c.ReadTimeout,
		Settings:    ch.Settings{},
	}
	if c.UseHTTP {
		opt.Protocol = ch.HTTP
	}
	if c.MaxExecTime > 0 {
		opt.Settings["max_execution_time"] = int(c.MaxExecTime / time.Second)
	}
	if c.AsyncInsert {
		opt.Settings["async_insert"] = 1
		if c.WaitForAsync {
			opt.Settings["wait_for_async_insert"] = 1
		}
	}
	return opt
}
