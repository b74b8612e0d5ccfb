// Copyright 2021 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Given a BAM or PAM of reads aligned to a set of reference contigs, and the
FASTA those contigs came from, bio-damage estimates cytosine-deamination
damage (the C->T / G->A substitution gradient near fragment ends that is
characteristic of ancient or otherwise degraded DNA).  For each reference it
fits a positional decay model to the substitution profile, tests it against
a uniform-rate null, and attaches a pretrained-GLM estimate of how
trustworthy the significance call is.  Output is a flat TSV with one row per
reference that had usable alignments.

Sample usage:
bio-damage \
    -wlen 30 \
    -out results.tsv \
    my.bam \
    ref.fa
*/
package main
