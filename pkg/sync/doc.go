/*
Package sync reconciles a source tree with a target tree.

A run happens in two phases. First the Differ walks the source tree depth
first and, for every path, compares it with the target and produces a
Decision: Create, Update, Delete or Skip. The walk is sequential so that a
single remote connection isn't flooded with concurrent listings, and parents
are always visited before their children.

The Orchestrator then converts the Decisions into transfer Tasks and hands
them to a transfer.Scheduler, which executes them in parallel. Tasks don't
depend on each other: a file whose parent directories are missing on the
target carries the list of directories to create, and the scheduler creates
each directory at most once per run.

Directories only produce Decisions when there's no file to carry them: a new
directory whose contents are all ignored or empty is created on its own, and
an extraneous directory on the target is deleted with one recursive Delete.
*/
package sync
