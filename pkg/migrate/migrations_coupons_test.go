package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCouponsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_coupons.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no coupons migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TYPE coupon_status_enum AS ENUM",
		"CREATE TABLE IF NOT EXISTS coupons",
		"CHECK (discount_percent BETWEEN 1 AND 100)",
		"reserved_by",
		"reservation_expiry",
		"FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS coupons",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
