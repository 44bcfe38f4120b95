// Package warmup runs registered cache-priming providers once per cluster.
// Each provider runs under the distributed lock "warmup:<key>", so when
// several instances start together only one of them does the work and the
// others skip it.
package warmup
