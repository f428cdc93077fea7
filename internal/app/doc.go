// Package app composes the studiodesk services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── tenant/         # Owners, subscriptions, payout details
//	│   ├── client/         # Clients, consents, notes, portal accounts
//	│   ├── catalog/        # Services offered by a studio
//	│   ├── appointment/    # Appointments and calendar views
//	│   ├── activation/     # Client activation and login tokens
//	│   ├── invoice/        # Invoices, line items, payments received
//	│   ├── notification/   # Reminder templates, portal notifications
//	│   └── referral/       # Referrals, commissions, payments
//	├── storage/            # Store interfaces and implementations
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── tokenstore/         # Token backends (memory, redis, bolt, postgres)
//	├── services/           # Business logic per domain
//	├── httpapi/            # HTTP routes, handlers and audit log
//	├── realtime/           # Websocket calendar hub
//	├── jobs/               # Cron scheduler for periodic work
//	├── monitor/            # Keep-alive pinger, watchdog and restarter
//	├── notify/             # Reminder delivery channels
//	├── metrics/            # Prometheus collectors
//	├── system/             # Service lifecycle manager
//	└── runtime/            # Config-driven process wiring
//
// # Responsibilities
//
// The app package builds every service against a set of stores, wires the
// cross-service hooks (appointment events to the hub, client deletion to
// token revocation, reminder texts from owner templates) and registers the background workers with the
// lifecycle manager. Business rules live in services/; HTTP concerns live in
// httpapi/.
//
// # Dependency Direction
//
//	cmd/studiod/
//	      │
//	      ▼
//	internal/app/runtime (stores from config)
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces only)
//	      │
//	      └──► internal/platform/ (migrations)
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "vouchers"):
//
//  1. Create domain models in internal/app/domain/vouchers/
//  2. Add the store interface to internal/app/storage/interfaces.go
//  3. Implement it in internal/app/storage/postgres/ and memory/
//  4. Create the service in internal/app/services/vouchers/service.go
//  5. Wire the service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/handler_vouchers.go
package app
