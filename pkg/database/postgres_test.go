package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/trn-registry-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "trs", Password: "pw", Name: "trn_registry", SSLMode: "require"})
	assert.Equal(t, "host=db port=5433 user=trs password=pw dbname=trn_registry sslmode=require", dsn)
}
