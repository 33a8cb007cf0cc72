package migration

import (
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	billingdomain "github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)

	versions := make([]string, 0, len(ups))
	for v := range ups {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	assert.Equal(t, "000001_orders", versions[0])

	_, err = newSource()
	require.NoError(t, err)
}

func TestUniqueConstraintsDeclared(t *testing.T) {
	body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000002_webhook_events.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "UNIQUE INDEX IF NOT EXISTS idx_webhook_events_provider_event_id")

	body, err = fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_orders.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "idx_orders_stripe_payment_intent_id")
}

func TestRunAutoMigratesNonPostgres(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn, config.Config{DBType: "sqlite"}))
	for _, table := range []string{"orders", "webhook_events", "payment_audits"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	// idempotent
	require.NoError(t, Run(conn, config.Config{DBType: "sqlite"}))
}

func TestRunRequiresConnection(t *testing.T) {
	assert.Error(t, Run(nil, config.Config{}))
	assert.Error(t, RunMigrations(nil))
}

func TestUpScriptsLoadWithForeignKeysEnforced(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{})
	require.NoError(t, err)

	scripts, err := UpScripts()
	require.NoError(t, err)
	require.Len(t, scripts, 3)
	for _, script := range scripts {
		require.NoError(t, conn.Exec(script).Error)
	}

	// webhook rows may point at orders this database has never seen
	orderID := uuid.New()
	now := time.Now().UTC()
	row := billingdomain.WebhookEvent{
		ID:              1,
		ProviderEventID: "evt_unknown_order",
		EventType:       "payment_intent.succeeded",
		OrderID:         &orderID,
		Payload:         datatypes.JSON(`{}`),
		CreatedAt:       now,
	}
	require.NoError(t, conn.Create(&row).Error)

	var count int64
	require.NoError(t, conn.Model(&billingdomain.WebhookEvent{}).Where("order_id = ?", orderID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
