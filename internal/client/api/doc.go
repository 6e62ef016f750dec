// Package api binds the transport engine to the remote operations the sync
// core uses: typed wrappers over named queries and mutations, the payloads
// delivered by live subscriptions, the two pagination idioms of the
// conversation service and the HTTP client of the pairing endpoints.
//
// Every remote call goes through client.WithAuthRetry, so an unauthorized
// answer refreshes credentials and retries exactly once.
package api
