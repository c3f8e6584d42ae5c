// Package secrets is a small client for AWS Secrets Manager.
//
// It retrieves secret values by name, optionally decoding JSON payloads into
// a struct, and creates secrets for test fixtures.
//
// # IAM Permissions
//
//   - secretsmanager:GetSecretValue for GetSecret and GetSecretJSON
//   - secretsmanager:CreateSecret for CreateSecret
//   - kms:Decrypt if the secret is encrypted with a customer-managed KMS key
//
// # Logging
//
// Only secret names and operation metadata are logged. Secret values never
// appear in log output or in error messages.
//
// # Thread Safety
//
// All Client methods are safe for concurrent use by multiple goroutines.
package secrets
