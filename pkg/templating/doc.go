/*
Package templating provides a small directive template engine that turns
text containing directives into a rendered string given a data context.

The directive syntax is:

	{{dotted.path}}                          variable
	{@if EXPR}...{@else}...{/@if}            conditional, else optional
	{@for VAR in PATH}...{/@for}             loop, binds VAR, index, first, last
	{@extends PARENT}                        inherit from PARENT
	{@block NAME}DEFAULT{/@block}            overridable region
	{@parent}                                parent's default content of a block
	{@include ID}                            inline another template

Resolution applies inheritance first, then includes, then conditionals and
loops, and finally variable substitution, so loop and conditional bodies are
fully expanded before their placeholders are resolved against per-iteration
bindings.

Conditions are evaluated by a restricted expression language supporting
===, !==, ==, !=, <, >, <=, >=, &&, ||, !, typeof and parentheses over
literals and dotted references. Only names present in the data context are
reachable. A condition that cannot be evaluated counts as false and is
reported through TemplateManager.OnExpressionError; it never aborts a render.

Raw template text comes from a Source, usually the caching store in
package store.
*/
package templating
