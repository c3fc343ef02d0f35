// Package target defines the backing-store endpoint model. A target
// describes one SQL Server instance a pool opens its connections against.
package target

import (
	"fmt"
	"time"
)

// Target identifies a SQL Server instance and how to reach it.
type Target struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Database       string        `yaml:"database"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DSN returns the SQL Server connection string for this target.
func (t *Target) DSN() string {
	timeout := int(t.ConnectTimeout.Seconds())
	if timeout == 0 {
		timeout = 30
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&connection+timeout=%d",
		t.Username, t.Password, t.Host, t.Port, t.Database, timeout)
}

// Addr returns the host:port address of the instance.
func (t *Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}
