// Package auth provides operator authentication for the registry API.
//
// Operators are declared in the configuration file with Argon2id password
// hashes. A successful login yields a short-lived HS256 JWT carrying the
// operator's role, and every API route checks the role against a static
// permission table:
//
//	viewer   read devices, datasets, configuration and the event log
//	operator viewer + add/update devices, transitions, protocol and datasets
//	admin    operator + remove devices and import configuration
package auth
