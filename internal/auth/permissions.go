package auth

// Permissions grantable to API credentials.
const (
	PermRead   = "read"
	PermWrite  = "write"
	PermDelete = "delete"

	PermLeadsRead   = "leads:read"
	PermLeadsWrite  = "leads:write"
	PermLeadsDelete = "leads:delete"

	PermScrapeRead    = "scrape:read"
	PermScrapeWrite   = "scrape:write"
	PermScrapeExecute = "scrape:execute"

	PermAnalyticsRead = "analytics:read"

	PermExportRead    = "export:read"
	PermExportExecute = "export:execute"

	PermAdmin = "admin"
)

var knownPermissions = map[string]struct{}{
	PermRead:          {},
	PermWrite:         {},
	PermDelete:        {},
	PermLeadsRead:     {},
	PermLeadsWrite:    {},
	PermLeadsDelete:   {},
	PermScrapeRead:    {},
	PermScrapeWrite:   {},
	PermScrapeExecute: {},
	PermAnalyticsRead: {},
	PermExportRead:    {},
	PermExportExecute: {},
	PermAdmin:         {},
}

// ValidPermissions reports whether every entry names a known permission.
func ValidPermissions(perms []string) bool {
	for _, p := range perms {
		if _, ok := knownPermissions[p]; !ok {
			return false
		}
	}
	return true
}
