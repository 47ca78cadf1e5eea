/*
Package ldap is the Active Directory adapter used by authentication and
synchronization.

# Connection Management

A Client owns a pool of connections bound as the service account:

  - servers come from configured hosts (ldap://, ldaps://, host:port or bare
    names) or from DNS SRV discovery of a domain
  - StartTLS or LDAPS transport, optionally accepting self-signed certificates
  - simple or Kerberos (GSSAPI) service binds
  - retry with exponential backoff for transient failures

User password checks never use pooled connections: Client.Bind dials a
dedicated connection, binds once and closes it.

# Directory

Directory implements the lookups the rest of the module needs (by
principal, by objectGUID, nested group membership, domain SID) and the
attribute write-back used when pushing local values to the directory.
Entries are converted to directory.Attributes with objectGUID and objectSid
decoded to their string forms.

# Errors

Every error meaning no server could be contacted matches ErrUnreachable.
Result codes are categorised by LDAPError so callers can distinguish
rejected credentials from infrastructure failures.
*/
package ldap
