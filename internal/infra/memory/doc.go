// memory holds process-local implementations of the cluster collaborators.
//
// They give single node deployments and tests the same semantics as the real
// backends, but nothing is shared between processes.
package memory
