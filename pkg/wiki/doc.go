/*
Package wiki holds the core of the wiki: articles and their revisions, the
association of articles with arbitrary objects, users and the permission policy
that decides who may read, write, delete or moderate an article, markdown
rendering with a short-lived content cache, and the forms used to create and
edit articles.

All persistent state lives in a SQLite database. SetupSchema must be called once
on a database before a Store is created over it.
*/
package wiki
